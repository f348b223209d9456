package keeprules

import (
	"path/filepath"
	"testing"

	"github.com/vgnett/registry-gc/internal/model"
)

func TestLoadMissingFileYieldsEmptyRuleset(t *testing.T) {
	rs, err := Load(filepath.Join(t.TempDir(), "images-keep.json"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rs.Len() != 0 {
		t.Fatalf("expected empty ruleset, got %d rules", rs.Len())
	}
	if rs.KeepTag("anything", "latest") {
		t.Fatal("empty ruleset must never keep")
	}
}

func TestNewRejectsEmptyPattern(t *testing.T) {
	_, err := New([]model.KeepRule{{Pattern: "", Keep: model.KeepAll}})
	if err == nil {
		t.Fatal("expected error for empty pattern")
	}
}

func TestNewRejectsInvalidKeep(t *testing.T) {
	_, err := New([]model.KeepRule{{Pattern: "^infra/.*", Keep: "sometimes"}})
	if err == nil {
		t.Fatal("expected error for invalid keep")
	}
}

func TestNewRejectsInvalidRegex(t *testing.T) {
	_, err := New([]model.KeepRule{{Pattern: "(unterminated", Keep: model.KeepAll}})
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestKeepTagAllKeepsAnyTag(t *testing.T) {
	rs, err := New([]model.KeepRule{{Pattern: "^infra/.*", Keep: model.KeepAll}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !rs.KeepTag("infra/builder", "v1.2.3") {
		t.Fatal("expected keep=all to keep any tag")
	}
}

func TestKeepTagLatestOnlyKeepsLatest(t *testing.T) {
	rs, err := New([]model.KeepRule{{Pattern: "^infra/.*", Keep: model.KeepLatest}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !rs.KeepTag("infra/builder", "latest") {
		t.Fatal("expected keep=latest to keep the latest tag")
	}
	if rs.KeepTag("infra/builder", "v1.2.3") {
		t.Fatal("expected keep=latest to not keep a non-latest tag")
	}
}

func TestKeepTagFirstMatchWins(t *testing.T) {
	rs, err := New([]model.KeepRule{
		{Pattern: "^infra/.*", Keep: model.KeepNone},
		{Pattern: "^infra/special$", Keep: model.KeepAll},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if rs.KeepTag("infra/special", "v1") {
		t.Fatal("first matching rule (none) should win over a later, more specific rule")
	}
}

func TestKeepRepoNoneHaltsEvaluation(t *testing.T) {
	rs, err := New([]model.KeepRule{
		{Pattern: "^infra/.*", Keep: model.KeepNone},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if rs.KeepRepo("infra/builder") {
		t.Fatal("keep=none should make KeepRepo false")
	}
}

func TestKeepRepoMatchOnAllOrLatest(t *testing.T) {
	rs, err := New([]model.KeepRule{{Pattern: "^infra/.*", Keep: model.KeepLatest}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !rs.KeepRepo("infra/builder") {
		t.Fatal("expected KeepRepo true for a keep=latest match")
	}
	if rs.KeepRepo("other/thing") {
		t.Fatal("expected KeepRepo false for a non-matching repo")
	}
}

func TestNilRulesetIsSafe(t *testing.T) {
	var rs *Ruleset
	if rs.KeepTag("a", "b") || rs.KeepRepo("a") || rs.Len() != 0 {
		t.Fatal("nil ruleset must behave as empty")
	}
}
