package model

import "strings"

// SplitRepoTagDigest pulls (repo-path, tag, digest) out of a reference that
// has already had its registry host stripped. It handles the three
// variants spec.md §3 requires: "path:tag@digest", "path@digest", and
// "path:tag". Either of tag or digest may come back empty; repoPath never
// will for a non-empty input.
func SplitRepoTagDigest(s string) (repoPath, tag, digest string) {
	if at := strings.Index(s, "@"); at >= 0 {
		digest = s[at+1:]
		s = s[:at]
	}
	if colon := strings.Index(s, ":"); colon >= 0 {
		tag = s[colon+1:]
		repoPath = s[:colon]
	} else {
		repoPath = s
	}
	return repoPath, tag, digest
}

// StripHostPrefix removes "host/" from ref and reports whether ref carried
// that prefix. Used by the Auditor and Evictor to recognize references
// that belong to the registry they are operating against.
func StripHostPrefix(ref, host string) (rest string, ok bool) {
	prefix := host + "/"
	if !strings.HasPrefix(ref, prefix) {
		return "", false
	}
	return strings.TrimPrefix(ref, prefix), true
}

// ImageByDigest builds a digest -> reference-without-digest lookup table
// from the image strings a pod spec lists directly (spec.md §4.2 step 2b).
// Only references containing "@" contribute an entry.
func ImageByDigest(podImages []string) map[string]string {
	out := make(map[string]string)
	for _, im := range podImages {
		at := strings.Index(im, "@")
		if at < 0 {
			continue
		}
		out[im[at+1:]] = im[:at]
	}
	return out
}
