package model

import "time"

// TagInfo is what the Registry Client and Evictor know about one tag once
// its manifest has been fetched (spec.md §3's RegistryView). Digest is
// empty and CreatedAt is zero when the manifest could not be fetched.
type TagInfo struct {
	Name      string
	Digest    string
	CreatedAt time.Time
}

// RegistryView is the ordered set of tags known for a single repository,
// transient for the duration of one run.
type RegistryView struct {
	Repository string
	Tags       []TagInfo
}
