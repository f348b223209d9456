// Package evict implements the Evictor (spec.md §4.5): per repository it
// performs Lookup, Decide, and Apply, deciding between delete_most_manifests
// and delete_all_manifests depending on usage and keep-rule matches.
// Grounded on original_source/registryevictor.py's repo_lookup /
// delete_most_manifests / delete_all_manifests / evict_repo, and on
// internal/registry/retention.go's digest-alias and dry-run handling from
// the teacher.
package evict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vgnett/registry-gc/internal/keeprules"
	"github.com/vgnett/registry-gc/internal/model"
	"github.com/vgnett/registry-gc/internal/registry"
	"github.com/vgnett/registry-gc/internal/rlog"
)

// ErrManifestCorrupt distinguishes a 200 response whose body has no
// "history" field at all — a manifest schema the evictor can't parse —
// from the ordinary "no manifest" case. registry-evictor.py's repo_lookup
// treats this as fatal; here it's logged and counted as a Problem instead
// of aborting the whole run.
var ErrManifestCorrupt = errors.New("manifest has no history")

// RegistryClient is the subset of registry.Client the Evictor needs.
type RegistryClient interface {
	ListRepositories(ctx context.Context) ([]string, error)
	ListTags(ctx context.Context, repo string) ([]string, error)
	GetManifest(ctx context.Context, repo, reference string) (registry.Manifest, error)
	DeleteManifest(ctx context.Context, repo, digest string) error
}

// schemaV1History is the shape of a single manifest.history[i].v1Compatibility
// entry (spec.md §4.5 Lookup) — only the "created" field is needed.
type schemaV1History struct {
	Created time.Time `json:"created"`
}

type dockerManifest struct {
	History []struct {
		V1Compatibility string `json:"v1Compatibility"`
	} `json:"history"`
}

// RepoResult summarizes what Apply did for one repository.
type RepoResult struct {
	Repository  string
	NoTags      bool
	Kept        []string
	Deleted     []string
	WouldDelete []string // populated instead of Deleted when DryRun is set
	Problems    int       // tags whose manifest/history could not be read
	Errors      []error
}

// Evictor deletes manifests for tags that are neither in use nor protected
// by a keep rule.
type Evictor struct {
	client   RegistryClient
	rules    *keeprules.Ruleset
	host     string
	dryRun   bool
	maxRepos int // bounded concurrency across repositories; 0 means sequential
	confirm  func() bool
	log      *rlog.Logger
}

// Option configures an Evictor.
type Option func(*Evictor)

// WithDryRun makes Apply log decisions without calling DeleteManifest.
func WithDryRun(dryRun bool) Option {
	return func(e *Evictor) { e.dryRun = dryRun }
}

// WithRepoConcurrency bounds how many repositories Process evicts in
// parallel. Deletions within one repository are always serialized
// regardless of this setting (spec.md §4.5).
func WithRepoConcurrency(n int) Option {
	return func(e *Evictor) { e.maxRepos = n }
}

// WithConfirm installs a pause-before-delete hook: before any manifest is
// actually deleted (not in dry-run mode), Apply calls confirm and skips
// the deletion if it returns false. Generalizes registry-evictor.py's
// "-p/--pause" flag without the core depending on os.Stdin; a nil
// confirm (the default) never pauses.
func WithConfirm(confirm func() bool) Option {
	return func(e *Evictor) { e.confirm = confirm }
}

// WithLogger overrides the Evictor's logger. The default discards Debugf
// and prefixes everything else to stderr, matching rlog.New(LevelInfo).
func WithLogger(logger *rlog.Logger) Option {
	return func(e *Evictor) { e.log = logger }
}

// New builds an Evictor. host is the registry host prefix used to match
// ImageReference values in usage against "<repo>:<tag>" pairs.
func New(client RegistryClient, rules *keeprules.Ruleset, host string, opts ...Option) *Evictor {
	e := &Evictor{client: client, rules: rules, host: host, log: rlog.New(rlog.LevelInfo)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process runs Lookup/Decide/Apply for every repository in repos (or every
// repository the registry reports, if repos is nil), cross-referencing
// usage for the in-use decision. Listing repositories is fatal on failure
// (spec.md §4.5) — reading usage is the caller's responsibility before
// Process is invoked.
func (e *Evictor) Process(ctx context.Context, repos []string, usage model.ImageUsage) ([]RepoResult, error) {
	var err error
	if repos == nil {
		repos, err = e.client.ListRepositories(ctx)
		if err != nil {
			return nil, fmt.Errorf("evict: list repositories: %w", err)
		}
	}

	usedRepo, usedRepoTag := e.indexUsage(usage)

	results := make([]RepoResult, len(repos))
	if e.maxRepos <= 1 {
		for i, repo := range repos {
			results[i] = e.evictRepository(ctx, repo, usedRepo, usedRepoTag)
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxRepos)
	for i, repo := range repos {
		i, repo := i, repo
		g.Go(func() error {
			results[i] = e.evictRepository(gctx, repo, usedRepo, usedRepoTag)
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// indexUsage builds the used_repo / used_repo_tag sets registryevictor.py
// derives from images.json, restricted to references under e.host.
func (e *Evictor) indexUsage(usage model.ImageUsage) (usedRepo map[string]bool, usedRepoTag map[string]bool) {
	usedRepo = make(map[string]bool)
	usedRepoTag = make(map[string]bool)
	for ref := range usage {
		rest, ok := model.StripHostPrefix(ref, e.host)
		if !ok {
			continue
		}
		repo, tag, _ := model.SplitRepoTagDigest(rest)
		if tag == "" {
			continue
		}
		usedRepo[repo] = true
		usedRepoTag[repo+":"+tag] = true
	}
	return usedRepo, usedRepoTag
}

func (e *Evictor) evictRepository(ctx context.Context, repo string, usedRepo, usedRepoTag map[string]bool) RepoResult {
	result := RepoResult{Repository: repo}

	tags, err := e.client.ListTags(ctx, repo)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("list tags for %s: %w", repo, err))
		return result
	}
	if len(tags) == 0 {
		result.NoTags = true
		return result
	}

	view := e.lookupRegistryView(ctx, repo, tags, &result)
	byName := make(map[string]model.TagInfo, len(view.Tags))
	for _, ti := range view.Tags {
		byName[ti.Name] = ti
	}

	sorted := sortedTagsByCreated(view)

	var keep map[string]bool
	inUse := usedRepo[repo]
	matchesKeepRule := e.rules.KeepRepo(repo)
	if inUse || matchesKeepRule {
		keep = e.decideKeepMost(repo, sorted, byName, usedRepoTag)
	} else {
		keep = e.decideKeepNone(repo, sorted)
	}

	keptDigests := make(map[string]bool, len(keep))
	for tag := range keep {
		keptDigests[byName[tag].Digest] = true
	}

	for _, tag := range sorted {
		if keep[tag] || keptDigests[byName[tag].Digest] {
			result.Kept = append(result.Kept, tag)
			continue
		}
		e.apply(ctx, repo, tag, byName[tag].Digest, &result)
	}

	return result
}

// lookupRegistryView is the Lookup phase (spec.md §4.5, §3 RegistryView):
// it fetches every tag's manifest and records the ones that parse cleanly,
// counting everything else as a Problem on result.
func (e *Evictor) lookupRegistryView(ctx context.Context, repo string, tags []string, result *RepoResult) model.RegistryView {
	view := model.RegistryView{Repository: repo}
	for _, tag := range tags {
		m, err := e.client.GetManifest(ctx, repo, tag)
		if err != nil {
			result.Problems++
			e.log.Warnf("evict: %s:%s: get manifest failed: %v", repo, tag, err)
			continue
		}
		if m.Digest == "" || len(m.Body) == 0 {
			result.Problems++
			continue
		}
		created, err := parseCreated(m.Body)
		if err != nil {
			result.Problems++
			if errors.Is(err, ErrManifestCorrupt) {
				e.log.Warnf("evict: %s:%s: %v", repo, tag, err)
			} else {
				e.log.Debugf("evict: %s:%s: %v", repo, tag, err)
			}
			continue
		}
		view.Tags = append(view.Tags, model.TagInfo{Name: tag, Digest: m.Digest, CreatedAt: created})
	}
	return view
}

// decideKeepMost implements delete_most_manifests: keep the 3 newest, the 2
// tags preceding every in-use tag, and anything the keep-rule engine
// spares.
func (e *Evictor) decideKeepMost(repo string, sorted []string, byName map[string]model.TagInfo, usedRepoTag map[string]bool) map[string]bool {
	keep := make(map[string]bool)

	for i := len(sorted) - 1; i >= 0 && i >= len(sorted)-3; i-- {
		keep[sorted[i]] = true
	}

	for idx, tag := range sorted {
		if !usedRepoTag[repo+":"+tag] {
			continue
		}
		keep[tag] = true
		if idx-1 >= 0 {
			keep[sorted[idx-1]] = true
		}
		if idx-2 >= 0 {
			keep[sorted[idx-2]] = true
		}
	}

	for _, tag := range sorted {
		if e.rules.KeepTag(repo, tag) {
			keep[tag] = true
		}
	}

	return keep
}

// decideKeepNone implements delete_all_manifests: nothing survives except
// explicit keep-rule matches, which are still honored per-tag even though
// the repo itself didn't match a keep rule (spec.md §4.5).
func (e *Evictor) decideKeepNone(repo string, sorted []string) map[string]bool {
	keep := make(map[string]bool)
	for _, tag := range sorted {
		if e.rules.KeepTag(repo, tag) {
			keep[tag] = true
		}
	}
	return keep
}

func (e *Evictor) apply(ctx context.Context, repo, tag, digest string, result *RepoResult) {
	repoTag := repo + ":" + tag
	if e.dryRun {
		result.WouldDelete = append(result.WouldDelete, repoTag)
		e.log.Infof("evict: (dry-run) would delete %s (digest %s)", repoTag, digest)
		return
	}
	if e.confirm != nil && !e.confirm() {
		result.Kept = append(result.Kept, tag)
		e.log.Infof("evict: skipping delete of %s, not confirmed", repoTag)
		return
	}
	if err := e.client.DeleteManifest(ctx, repo, digest); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", repoTag, err))
		e.log.Warnf("evict: failed to delete %s: %v", repoTag, err)
		return
	}
	result.Deleted = append(result.Deleted, repoTag)
	e.log.Infof("evict: deleted %s (digest %s)", repoTag, digest)
}

func sortedTagsByCreated(view model.RegistryView) []string {
	byName := make(map[string]model.TagInfo, len(view.Tags))
	tags := make([]string, 0, len(view.Tags))
	for _, ti := range view.Tags {
		byName[ti.Name] = ti
		tags = append(tags, ti.Name)
	}
	sort.Slice(tags, func(i, j int) bool {
		return byName[tags[i]].CreatedAt.Before(byName[tags[j]].CreatedAt)
	})
	return tags
}

// parseCreated extracts the "created" timestamp from
// manifest.history[0].v1Compatibility, the Docker Schema v1-compatibility
// blob still embedded in Schema v2 manifests for this purpose. A body that
// doesn't even parse as JSON with a "history" key is ErrManifestCorrupt;
// any other parse failure is an ordinary non-fatal problem.
func parseCreated(body []byte) (time.Time, error) {
	var m dockerManifest
	if err := json.Unmarshal(body, &m); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrManifestCorrupt, err)
	}
	if len(m.History) == 0 {
		return time.Time{}, fmt.Errorf("%w: no history entries", ErrManifestCorrupt)
	}
	var h schemaV1History
	if err := json.Unmarshal([]byte(m.History[0].V1Compatibility), &h); err != nil {
		return time.Time{}, fmt.Errorf("parse v1Compatibility: %w", err)
	}
	return h.Created, nil
}
