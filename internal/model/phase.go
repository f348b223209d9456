package model

import "encoding/json"

// Native Kubernetes pod phases the collector observes, plus the
// synthesized ImagePullBackOff flag. ImagePullBackOff is never a real pod
// phase — it is derived from a container's waiting-state reason — so it is
// kept as an independent boolean rather than folded into the phase enum
// (see SPEC_FULL.md, Open Question resolutions).
const (
	PhaseRunning   = "Running"
	PhasePending   = "Pending"
	PhaseSucceeded = "Succeeded"
	PhaseFailed    = "Failed"
	PhaseUnknown   = "Unknown"
	PhaseIPBO      = "ImagePullBackOff"
)

// AllPhases is the fixed, lexicographically-irrelevant enumeration order
// used whenever a caller needs to range over every known phase key.
var AllPhases = [...]string{PhaseRunning, PhasePending, PhaseSucceeded, PhaseFailed, PhaseUnknown, PhaseIPBO}

// PhaseFlags is the set of phases observed for a pod or an occurrence. It
// marshals as a flat map so it round-trips with the on-disk contract
// produced by the original inventory collector (one boolean per phase key,
// object keys sorted).
type PhaseFlags struct {
	Running          bool
	Pending          bool
	Succeeded        bool
	Failed           bool
	Unknown          bool
	ImagePullBackOff bool
}

// Set marks the given phase name true. Unknown phase names are ignored.
func (p *PhaseFlags) Set(phase string) {
	switch phase {
	case PhaseRunning:
		p.Running = true
	case PhasePending:
		p.Pending = true
	case PhaseSucceeded:
		p.Succeeded = true
	case PhaseFailed:
		p.Failed = true
	case PhaseUnknown:
		p.Unknown = true
	case PhaseIPBO:
		p.ImagePullBackOff = true
	}
}

// Merge ORs every flag in other into p.
func (p *PhaseFlags) Merge(other PhaseFlags) {
	p.Running = p.Running || other.Running
	p.Pending = p.Pending || other.Pending
	p.Succeeded = p.Succeeded || other.Succeeded
	p.Failed = p.Failed || other.Failed
	p.Unknown = p.Unknown || other.Unknown
	p.ImagePullBackOff = p.ImagePullBackOff || other.ImagePullBackOff
}

// IsLive is true when this set of flags implies the image is currently
// wanted "now" (Running, Pending, or stuck pulling).
func (p PhaseFlags) IsLive() bool {
	return p.Running || p.Pending || p.ImagePullBackOff
}

// Names returns the sorted list of phases set to true, using the native
// pod-phase name (ImagePullBackOff included) — the shape the Auditor's
// HealthReport needs for its "phases" field.
func (p PhaseFlags) Names() []string {
	var names []string
	if p.Failed {
		names = append(names, PhaseFailed)
	}
	if p.ImagePullBackOff {
		names = append(names, PhaseIPBO)
	}
	if p.Pending {
		names = append(names, PhasePending)
	}
	if p.Running {
		names = append(names, PhaseRunning)
	}
	if p.Succeeded {
		names = append(names, PhaseSucceeded)
	}
	if p.Unknown {
		names = append(names, PhaseUnknown)
	}
	return names
}

func (p PhaseFlags) asMap() map[string]bool {
	return map[string]bool{
		PhaseRunning:   p.Running,
		PhasePending:   p.Pending,
		PhaseSucceeded: p.Succeeded,
		PhaseFailed:    p.Failed,
		PhaseUnknown:   p.Unknown,
		PhaseIPBO:      p.ImagePullBackOff,
	}
}

func (p PhaseFlags) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.asMap())
}

func (p *PhaseFlags) UnmarshalJSON(data []byte) error {
	var m map[string]bool
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*p = PhaseFlags{
		Running:          m[PhaseRunning],
		Pending:          m[PhasePending],
		Succeeded:        m[PhaseSucceeded],
		Failed:           m[PhaseFailed],
		Unknown:          m[PhaseUnknown],
		ImagePullBackOff: m[PhaseIPBO],
	}
	return nil
}
