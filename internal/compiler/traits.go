package compiler

import (
	"strings"

	"github.com/rendis/shipyard/pkg/schema"
)

// TraitSource is the trait input of a node. A node either carries a structured
// bundle or the flat legacy probe fields; both normalize to one TraitsSpec.
type TraitSource interface {
	// Normalize returns the canonical bundle, or nil when nothing is set.
	Normalize() *schema.TraitsSpec
}

// StructuredTraits is the structured bundle variant.
type StructuredTraits struct {
	Traits *schema.Traits
}

// LegacyTraits is the flat probe-field variant kept for older graphs.
type LegacyTraits struct {
	Probes schema.LegacyProbes
}

// SourceOf picks the trait variant of a node. The structured bundle wins
// whenever it is present, even if it is empty.
func SourceOf(node schema.GraphNode) TraitSource {
	if node.Traits != nil {
		return StructuredTraits{Traits: node.Traits}
	}
	return LegacyTraits{Probes: node.LegacyProbes}
}

func (s StructuredTraits) Normalize() *schema.TraitsSpec {
	t := s.Traits
	if t == nil {
		return nil
	}

	out := &schema.TraitsSpec{}
	for _, e := range t.Envs {
		out.Envs = append(out.Envs, e.Canonical())
	}
	for _, p := range t.Probes {
		out.Probes = append(out.Probes, p.Canonical())
	}
	for _, st := range t.Storage {
		out.Storage = append(out.Storage, st.Canonical())
	}
	for _, sc := range t.Sidecar {
		out.Sidecar = append(out.Sidecar, sc.Canonical())
	}
	for _, in := range t.Init {
		out.Init = append(out.Init, in.Canonical())
	}
	for _, r := range t.RBAC {
		out.RBAC = append(out.RBAC, r.Canonical())
	}
	out.Resource = t.Resource.Canonical()

	if out.IsEmpty() {
		return nil
	}
	return out
}

// Normalize synthesizes a probes-only bundle, liveness before readiness.
// Both probes share the same command and timings.
func (l LegacyTraits) Normalize() *schema.TraitsSpec {
	p := l.Probes
	var probes []schema.ProbeSpec
	if p.LivenessEnabled {
		probes = append(probes, legacyProbe(schema.ProbeLiveness, p))
	}
	if p.ReadinessEnabled {
		probes = append(probes, legacyProbe(schema.ProbeReadiness, p))
	}
	if len(probes) == 0 {
		return nil
	}
	return &schema.TraitsSpec{Probes: probes}
}

func legacyProbe(kind schema.ProbeKind, p schema.LegacyProbes) schema.ProbeSpec {
	trait := schema.ProbeTrait{
		Type:                kind,
		InitialDelaySeconds: p.InitialDelaySeconds,
		PeriodSeconds:       p.PeriodSeconds,
		TimeoutSeconds:      p.TimeoutSeconds,
	}
	if cmd := strings.TrimSpace(p.ProbeCommand); cmd != "" {
		trait.Exec = &schema.ExecAction{Command: Tokenize(cmd)}
	}
	return trait.Canonical()
}
