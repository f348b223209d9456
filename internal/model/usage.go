package model

import (
	"encoding/json"
	"fmt"
)

// Occurrence records one (context, namespace, pod) appearance of an image
// reference in workload state (spec.md §3). It marshals as a flat JSON
// object mixing the phase booleans with two underscore-prefixed synthetic
// fields ("_last_wanted", "_node") — the same shape
// original_source/k8s-inventory.py produces for each pod_name entry, which
// downstream health-endpoint consumers already depend on (spec.md §9).
type Occurrence struct {
	Phases         PhaseFlags
	LastWantedDays float64
	Node           string // empty if the pod was never scheduled
}

func (o Occurrence) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(AllPhases)+2)
	for phase, set := range o.Phases.asMap() {
		m[phase] = set
	}
	m["_last_wanted"] = o.LastWantedDays
	if o.Node != "" {
		m["_node"] = o.Node
	}
	return json.Marshal(m)
}

func (o *Occurrence) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, phase := range AllPhases {
		if v, ok := raw[phase]; ok {
			var b bool
			if err := json.Unmarshal(v, &b); err != nil {
				return fmt.Errorf("occurrence phase %s: %w", phase, err)
			}
			if b {
				o.Phases.Set(phase)
			}
		}
	}
	if v, ok := raw["_last_wanted"]; ok {
		if err := json.Unmarshal(v, &o.LastWantedDays); err != nil {
			return fmt.Errorf("occurrence _last_wanted: %w", err)
		}
	}
	if v, ok := raw["_node"]; ok {
		if err := json.Unmarshal(v, &o.Node); err != nil {
			return fmt.Errorf("occurrence _node: %w", err)
		}
	}
	return nil
}

// UsageRecord is the value half of the ImageUsage map (spec.md §3). Its
// JSON shape mixes fixed, underscore-prefixed attributes with
// occurrence-key entries in a single flat object — a serialization
// contract existing health-endpoint consumers rely on and that any
// reimplementation must preserve exactly (spec.md §9).
type UsageRecord struct {
	PhaseAny       PhaseFlags
	LastWantedDays float64
	Cronjob        bool
	Digest         string // empty if the orchestrator never reported one
	Occurrences    map[string]*Occurrence
}

// NewUsageRecord returns an empty record with LastWantedDays at zero. Observe
// overwrites it with the first occurrence's age when it creates a record, so
// the min() starts from real data rather than from this zero.
func NewUsageRecord() *UsageRecord {
	return &UsageRecord{
		Occurrences: make(map[string]*Occurrence),
	}
}

func (r *UsageRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Occurrences)+4)
	m["_phase"] = r.PhaseAny
	m["_last_wanted"] = r.LastWantedDays
	if r.Cronjob {
		m["_cronjob"] = true
	}
	if r.Digest != "" {
		m["_digest"] = r.Digest
	}
	for key, occ := range r.Occurrences {
		m[key] = occ
	}
	return json.Marshal(m)
}

func (r *UsageRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Occurrences = make(map[string]*Occurrence)
	for key, v := range raw {
		switch key {
		case "_phase":
			if err := json.Unmarshal(v, &r.PhaseAny); err != nil {
				return fmt.Errorf("usage record _phase: %w", err)
			}
		case "_last_wanted":
			if err := json.Unmarshal(v, &r.LastWantedDays); err != nil {
				return fmt.Errorf("usage record _last_wanted: %w", err)
			}
		case "_cronjob":
			if err := json.Unmarshal(v, &r.Cronjob); err != nil {
				return fmt.Errorf("usage record _cronjob: %w", err)
			}
		case "_digest":
			if err := json.Unmarshal(v, &r.Digest); err != nil {
				return fmt.Errorf("usage record _digest: %w", err)
			}
		default:
			var occ Occurrence
			if err := json.Unmarshal(v, &occ); err != nil {
				return fmt.Errorf("usage record occurrence %s: %w", key, err)
			}
			r.Occurrences[key] = &occ
		}
	}
	return nil
}

// OccurrenceKey builds the "k8s;<context>;<namespace>;<pod-name>" key
// spec.md §3 mandates.
func OccurrenceKey(context, namespace, pod string) string {
	return fmt.Sprintf("k8s;%s;%s;%s", context, namespace, pod)
}

// ImageUsage maps a canonical ImageReference to everything known about its
// use across the inventoried clusters.
type ImageUsage map[string]*UsageRecord

// Observe upserts an occurrence for ref, keeping PhaseAny, LastWantedDays
// and Digest consistent with the per-occurrence data just recorded. It is
// the single mutation path used by the Collector so that the invariants in
// spec.md §8 ("if phase_any includes Running/Pending/ImagePullBackOff then
// last_wanted_days == 0") hold by construction.
func (u ImageUsage) Observe(ref, occKey string, phase string, ipbo bool, node string, ageDays float64, digest string) *UsageRecord {
	rec, ok := u[ref]
	if !ok {
		rec = NewUsageRecord()
		rec.LastWantedDays = ageDays
		u[ref] = rec
	}

	occ, ok := rec.Occurrences[occKey]
	if !ok {
		occ = &Occurrence{}
		rec.Occurrences[occKey] = occ
	}
	if phase != "" {
		occ.Phases.Set(phase)
		rec.PhaseAny.Set(phase)
	}
	if ipbo {
		occ.Phases.ImagePullBackOff = true
		rec.PhaseAny.ImagePullBackOff = true
	}
	if node != "" {
		occ.Node = node
	}
	occ.LastWantedDays = ageDays
	if ageDays < rec.LastWantedDays {
		rec.LastWantedDays = ageDays
	}
	if rec.PhaseAny.IsLive() {
		rec.LastWantedDays = 0
	}
	if digest != "" {
		rec.Digest = digest
	}
	return rec
}

// MarkCronjob upserts a record for ref as referenced by a CronJob template,
// which always counts as last_wanted_days == 0 regardless of execution
// history (spec.md §3).
func (u ImageUsage) MarkCronjob(ref string) {
	rec, ok := u[ref]
	if !ok {
		rec = NewUsageRecord()
		u[ref] = rec
	}
	rec.Cronjob = true
	rec.LastWantedDays = 0
}
