package model

// Finding is one entry of a HealthReport. The Auditor emits two logical
// shapes — a per-tag finding and a per-repository finding (spec.md §3) —
// but §4.6 requires every row of the flattened CSV to share one header, so
// both shapes are carried by this single flat struct with a Type
// discriminator. Unused fields are left zero for a finding of the other
// type. Field order is alphabetical so JSON marshaling (which sorts struct
// tags in declaration order) produces the same "sorted object keys"
// contract §4.6 asks for.
type Finding struct {
	InUse      bool     `json:"in_use"`
	Name       string   `json:"name,omitempty"`
	Namespaces []string `json:"namespaces,omitempty"`
	Phases     []string `json:"phases,omitempty"`
	Problem    string   `json:"problem,omitempty"`
	Problems   []string `json:"problems,omitempty"`
	Ref        string   `json:"ref,omitempty"`
	Type       string   `json:"type"`
}

const (
	FindingTag  = "tag"
	FindingRepo = "repo"
)

// RepoFinding problem strings (spec.md §3).
const (
	RepoNoTags           = "no tags"
	RepoNoTagsButInUse   = "no tags - but in use"
	RepoAllTagsUnhealthy = "all tags unhealthy"
	RepoSeeTagsAbove     = "See tags above"
)

// TagFinding problem strings (spec.md §3).
const (
	ProblemNoDigest   = "no digest"
	ProblemNoManifest = "no manifest"
	ProblemIPBO       = "ImagePullBackOff"
)

// NewTagFinding builds a Finding describing an unhealthy image reference.
// inUse is only meaningful for by-registry-mode findings (spec.md §4.4); by-
// usage-mode findings are always drawn from live usage and pass true.
func NewTagFinding(ref string, problems, namespaces, phases []string, inUse bool) Finding {
	return Finding{
		Type:       FindingTag,
		Ref:        ref,
		Problems:   problems,
		Namespaces: namespaces,
		Phases:     phases,
		InUse:      inUse,
	}
}

// NewRepoFinding builds a Finding summarizing a repository.
func NewRepoFinding(name, problem string, inUse bool) Finding {
	return Finding{
		Type:    FindingRepo,
		Name:    name,
		Problem: problem,
		InUse:   inUse,
	}
}

// HealthReport is the ordered sequence of Findings the Auditor produces.
// Order is traversal order and is part of the public contract (spec.md
// §4.4) — callers must not re-sort it.
type HealthReport []Finding
