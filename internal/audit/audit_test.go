package audit

import (
	"context"
	"testing"

	"github.com/vgnett/registry-gc/internal/model"
	"github.com/vgnett/registry-gc/internal/registry"
)

type fakeClient struct {
	manifests map[string]registry.Manifest
	repos     []string
	tags      map[string][]string
}

func (f *fakeClient) GetManifest(_ context.Context, repo, reference string) (registry.Manifest, error) {
	return f.manifests[repo+":"+reference], nil
}

func (f *fakeClient) ListRepositories(context.Context) ([]string, error) { return f.repos, nil }

func (f *fakeClient) ListTags(_ context.Context, repo string) ([]string, error) {
	return f.tags[repo], nil
}

func TestAuditByUsageFlagsMissingDigest(t *testing.T) {
	usage := make(model.ImageUsage)
	usage.Observe("reg.example.com/acme/app:v1", "k8s;c;prod;ns1", model.PhaseRunning, false, "node-a", 0, "")

	client := &fakeClient{manifests: map[string]registry.Manifest{}}
	a := New(client, "reg.example.com")

	report, err := a.AuditByUsage(context.Background(), usage)
	if err != nil {
		t.Fatalf("AuditByUsage: %v", err)
	}
	if len(report) != 1 {
		t.Fatalf("expected 1 finding, got %d: %+v", len(report), report)
	}
	f := report[0]
	if f.Type != model.FindingTag || f.Ref != "reg.example.com/acme/app:v1" {
		t.Fatalf("unexpected finding %+v", f)
	}
	if len(f.Problems) != 1 || f.Problems[0] != model.ProblemNoDigest {
		t.Fatalf("expected no-digest problem, got %v", f.Problems)
	}
	if len(f.Namespaces) != 1 || f.Namespaces[0] != "prod" {
		t.Fatalf("expected namespace prod, got %v", f.Namespaces)
	}
}

func TestAuditByUsageSkipsNonLiveAndHealthy(t *testing.T) {
	usage := make(model.ImageUsage)
	usage.Observe("reg.example.com/acme/app:v1", "k8s;c;prod;ns1", model.PhaseSucceeded, false, "", 40, "")
	usage.Observe("reg.example.com/acme/ok:v1", "k8s;c;prod;ns2", model.PhaseRunning, false, "", 0, "")

	client := &fakeClient{manifests: map[string]registry.Manifest{
		"acme/ok:v1": {Digest: "sha256:abc"},
	}}
	a := New(client, "reg.example.com")

	report, err := a.AuditByUsage(context.Background(), usage)
	if err != nil {
		t.Fatalf("AuditByUsage: %v", err)
	}
	if len(report) != 0 {
		t.Fatalf("expected no findings, got %+v", report)
	}
}

func TestAuditByUsageIgnoresOtherHosts(t *testing.T) {
	usage := make(model.ImageUsage)
	usage.Observe("other.example.com/acme/app:v1", "k8s;c;prod;ns1", model.PhaseRunning, false, "", 0, "")

	client := &fakeClient{manifests: map[string]registry.Manifest{}}
	a := New(client, "reg.example.com")

	report, err := a.AuditByUsage(context.Background(), usage)
	if err != nil {
		t.Fatalf("AuditByUsage: %v", err)
	}
	if len(report) != 0 {
		t.Fatalf("expected no findings for other host, got %+v", report)
	}
}

func TestAuditByRegistryNoTagsEmitsRepoFinding(t *testing.T) {
	client := &fakeClient{
		repos: []string{"acme/empty"},
		tags:  map[string][]string{},
	}
	a := New(client, "reg.example.com")

	report, err := a.AuditByRegistry(context.Background(), nil, model.ImageUsage{})
	if err != nil {
		t.Fatalf("AuditByRegistry: %v", err)
	}
	if len(report) != 1 {
		t.Fatalf("expected 1 finding, got %+v", report)
	}
	if report[0].Type != model.FindingRepo || report[0].Problem != model.RepoNoTags {
		t.Fatalf("unexpected finding %+v", report[0])
	}
}

func TestAuditByRegistryNoTagsButInUseEmitsRepoFinding(t *testing.T) {
	client := &fakeClient{
		repos: []string{"acme/empty"},
		tags:  map[string][]string{},
	}
	a := New(client, "reg.example.com")

	usage := make(model.ImageUsage)
	usage.Observe("reg.example.com/acme/empty:v1", "k8s;c;prod;ns1", model.PhaseRunning, false, "", 0, "")

	report, err := a.AuditByRegistry(context.Background(), nil, usage)
	if err != nil {
		t.Fatalf("AuditByRegistry: %v", err)
	}
	if len(report) != 1 {
		t.Fatalf("expected 1 finding, got %+v", report)
	}
	if report[0].Type != model.FindingRepo || report[0].Problem != model.RepoNoTagsButInUse || !report[0].InUse {
		t.Fatalf("unexpected finding %+v", report[0])
	}
}

func TestAuditByRegistryAllTagsUnhealthyCollapsesToRepoFinding(t *testing.T) {
	client := &fakeClient{
		repos:     []string{"acme/broken"},
		tags:      map[string][]string{"acme/broken": {"v1", "v2"}},
		manifests: map[string]registry.Manifest{},
	}
	a := New(client, "reg.example.com")

	report, err := a.AuditByRegistry(context.Background(), nil, model.ImageUsage{})
	if err != nil {
		t.Fatalf("AuditByRegistry: %v", err)
	}
	if len(report) != 1 {
		t.Fatalf("expected a single rollup finding, got %+v", report)
	}
	if report[0].Problem != model.RepoAllTagsUnhealthy {
		t.Fatalf("expected all-tags-unhealthy, got %+v", report[0])
	}
}

func TestAuditByRegistryMixedHealthEmitsTagsAndSeeAbove(t *testing.T) {
	client := &fakeClient{
		repos: []string{"acme/mixed"},
		tags:  map[string][]string{"acme/mixed": {"v1", "v2"}},
		manifests: map[string]registry.Manifest{
			"acme/mixed:v1": {Digest: "sha256:abc"},
		},
	}
	a := New(client, "reg.example.com")

	report, err := a.AuditByRegistry(context.Background(), nil, model.ImageUsage{})
	if err != nil {
		t.Fatalf("AuditByRegistry: %v", err)
	}
	if len(report) != 2 {
		t.Fatalf("expected tag finding + repo finding, got %+v", report)
	}
	if report[0].Type != model.FindingTag || report[0].Ref != "acme/mixed:v2" {
		t.Fatalf("unexpected first finding %+v", report[0])
	}
	if report[1].Type != model.FindingRepo || report[1].Problem != model.RepoSeeTagsAbove {
		t.Fatalf("unexpected rollup finding %+v", report[1])
	}
}
