package model

// KeepPolicy is the retention verb a KeepRule attaches to a matching
// repository.
type KeepPolicy string

const (
	KeepAll    KeepPolicy = "all"
	KeepLatest KeepPolicy = "latest"
	KeepNone   KeepPolicy = "none"
)

// KeepRule is one entry of a Ruleset: repositories whose path matches
// Pattern are governed by Keep (spec.md §3). This is the on-disk shape of
// images-keep.json (spec.md §6) before pattern compilation/validation,
// which internal/keeprules owns.
type KeepRule struct {
	Pattern string     `json:"pattern"`
	Keep    KeepPolicy `json:"keep"`
}
