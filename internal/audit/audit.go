// Package audit implements the Auditor (spec.md §4.4): it cross-references
// a RegistryClient against an ImageUsage snapshot and produces a
// model.HealthReport in either of two traversal modes. Grounded loosely on
// original_source/registry-checker.py, which performs the same
// manifest-presence cross-check but with none of the repository-level
// rollup or phase/namespace aggregation spec.md adds.
package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vgnett/registry-gc/internal/model"
	"github.com/vgnett/registry-gc/internal/registry"
)

// ManifestGetter is the subset of registry.Client the Auditor needs. A
// narrow interface keeps this package testable without an HTTP server.
type ManifestGetter interface {
	GetManifest(ctx context.Context, repo, reference string) (registry.Manifest, error)
}

// ListingClient is the subset of registry.Client needed for by-registry
// mode.
type ListingClient interface {
	ManifestGetter
	ListRepositories(ctx context.Context) ([]string, error)
	ListTags(ctx context.Context, repo string) ([]string, error)
}

// Auditor produces HealthReports for one registry host.
type Auditor struct {
	client ListingClient
	host   string
}

// New builds an Auditor for the given registry client and host (the host
// prefix ImageReference values carry, e.g. "docker.example.com").
func New(client ListingClient, host string) *Auditor {
	return &Auditor{client: client, host: host}
}

// AuditByUsage walks every reference in usage whose host prefix matches
// the Auditor's registry, skipping anything not currently live, and
// cross-checks the manifest for each live reference (spec.md §4.4
// by-usage mode).
func (a *Auditor) AuditByUsage(ctx context.Context, usage model.ImageUsage) (model.HealthReport, error) {
	var report model.HealthReport

	refs := make([]string, 0, len(usage))
	for ref := range usage {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	for _, ref := range refs {
		rec := usage[ref]
		rest, ok := model.StripHostPrefix(ref, a.host)
		if !ok {
			continue
		}
		if !rec.PhaseAny.IsLive() {
			continue
		}

		repo, tag, digest := model.SplitRepoTagDigest(rest)
		reference := tag
		if reference == "" {
			reference = digest
		}

		m, err := a.client.GetManifest(ctx, repo, reference)
		if err != nil {
			return nil, fmt.Errorf("audit by usage: get manifest for %s: %w", ref, err)
		}

		var problems []string
		if m.Digest == "" {
			problems = append(problems, model.ProblemNoDigest)
		}
		if rec.PhaseAny.ImagePullBackOff {
			problems = append(problems, model.ProblemIPBO)
		}
		if len(problems) == 0 {
			continue
		}

		namespaces, phases := liveNamespacesAndPhases(rec)
		report = append(report, model.NewTagFinding(ref, problems, namespaces, phases, true))
	}

	return report, nil
}

// liveNamespacesAndPhases collects the sorted, deduplicated set of
// namespaces where ref is currently Running/Pending/ImagePullBackOff, and
// the sorted union of phases observed across those occurrences.
func liveNamespacesAndPhases(rec *model.UsageRecord) ([]string, []string) {
	nsSet := make(map[string]struct{})
	var phases model.PhaseFlags

	for key, occ := range rec.Occurrences {
		if !occ.Phases.IsLive() {
			continue
		}
		if ns := namespaceFromOccurrenceKey(key); ns != "" {
			nsSet[ns] = struct{}{}
		}
		phases.Merge(occ.Phases)
	}

	namespaces := make([]string, 0, len(nsSet))
	for ns := range nsSet {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	return namespaces, phases.Names()
}

// namespaceFromOccurrenceKey extracts the namespace segment of a
// "k8s;context;namespace;pod" occurrence key.
func namespaceFromOccurrenceKey(key string) string {
	parts := strings.SplitN(key, ";", 4)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// AuditByRegistry walks repos (or every repository the registry reports,
// if repos is nil) and cross-checks each tag's manifest against usage
// (spec.md §4.4 by-registry mode).
func (a *Auditor) AuditByRegistry(ctx context.Context, repos []string, usage model.ImageUsage) (model.HealthReport, error) {
	var err error
	if repos == nil {
		repos, err = a.client.ListRepositories(ctx)
		if err != nil {
			return nil, fmt.Errorf("audit by registry: list repositories: %w", err)
		}
	}

	var report model.HealthReport
	for _, repo := range repos {
		repoReport, err := a.auditRepository(ctx, repo, usage)
		if err != nil {
			return nil, err
		}
		report = append(report, repoReport...)
	}
	return report, nil
}

func (a *Auditor) auditRepository(ctx context.Context, repo string, usage model.ImageUsage) (model.HealthReport, error) {
	tags, err := a.client.ListTags(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("audit by registry: list tags for %s: %w", repo, err)
	}

	if len(tags) == 0 {
		inUse := repoInUse(repo, usage)
		problem := model.RepoNoTags
		if inUse {
			problem = model.RepoNoTagsButInUse
		}
		return model.HealthReport{model.NewRepoFinding(repo, problem, inUse)}, nil
	}

	var tagFindings model.HealthReport
	unhealthy := 0

	sort.Strings(tags)
	for _, tag := range tags {
		m, err := a.client.GetManifest(ctx, repo, tag)
		if err != nil {
			return nil, fmt.Errorf("audit by registry: get manifest for %s:%s: %w", repo, tag, err)
		}
		if m.Digest != "" {
			continue
		}
		unhealthy++
		ref := fmt.Sprintf("%s:%s", repo, tag)
		inUse := usage[a.host+"/"+ref] != nil
		tagFindings = append(tagFindings, model.NewTagFinding(ref, []string{model.ProblemNoManifest}, nil, nil, inUse))
	}

	if unhealthy == len(tags) {
		inUse := repoInUse(repo, usage)
		return model.HealthReport{model.NewRepoFinding(repo, model.RepoAllTagsUnhealthy, inUse)}, nil
	}

	if len(tagFindings) == 0 {
		return nil, nil
	}

	inUse := repoInUse(repo, usage)
	report := append(model.HealthReport{}, tagFindings...)
	report = append(report, model.NewRepoFinding(repo, model.RepoSeeTagsAbove, inUse))
	return report, nil
}

// repoInUse reports whether any ImageUsage key, once everything up to its
// first "/" (the registry host) is dropped, begins with "repo:" —
// spec.md §4.4's in_use computation for RepoFinding.
func repoInUse(repo string, usage model.ImageUsage) bool {
	prefix := repo + ":"
	for ref := range usage {
		idx := strings.Index(ref, "/")
		candidate := ref
		if idx >= 0 {
			candidate = ref[idx+1:]
		}
		if strings.HasPrefix(candidate, prefix) {
			return true
		}
	}
	return false
}
