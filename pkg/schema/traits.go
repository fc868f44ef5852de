package schema

// Traits is the structured bundle of cross-cutting concerns attached to a node.
type Traits struct {
	Envs     []EnvTrait     `json:"envs,omitempty"`
	Probes   []ProbeTrait   `json:"probes,omitempty"`
	Storage  []StorageTrait `json:"storage,omitempty"`
	Sidecar  []SidecarTrait `json:"sidecar,omitempty"`
	Init     []InitTrait    `json:"init,omitempty"`
	RBAC     []RBACTrait    `json:"rbac,omitempty"`
	Resource *ResourceTrait `json:"resource,omitempty"`
}

// LegacyProbes is the flat probe representation older graphs carry directly
// on the node. It is only consulted when the node has no Traits bundle.
type LegacyProbes struct {
	LivenessEnabled     bool   `json:"livenessEnabled,omitempty"`
	ReadinessEnabled    bool   `json:"readinessEnabled,omitempty"`
	ProbeCommand        string `json:"probeCommand,omitempty"`
	InitialDelaySeconds *int   `json:"initialDelaySeconds,omitempty"`
	PeriodSeconds       *int   `json:"periodSeconds,omitempty"`
	TimeoutSeconds      *int   `json:"timeoutSeconds,omitempty"`
}

// EnvTrait binds an environment variable to a secret key or a runtime field path.
type EnvTrait struct {
	Name      string    `json:"name"`
	ValueFrom EnvSource `json:"valueFrom"`
}

// EnvSource holds exactly one of Secret or Field.
type EnvSource struct {
	Secret *SecretKeyRef `json:"secret,omitempty" yaml:"secret,omitempty"`
	Field  *string       `json:"field,omitempty" yaml:"field,omitempty"`
}

// SecretKeyRef selects a key from a named secret.
type SecretKeyRef struct {
	Name string `json:"name" yaml:"name"`
	Key  string `json:"key" yaml:"key"`
}

// ProbeKind is the kind of health check.
type ProbeKind string

const (
	ProbeLiveness  ProbeKind = "liveness"
	ProbeReadiness ProbeKind = "readiness"
)

// ProbeTrait is a structured health check.
type ProbeTrait struct {
	Type                ProbeKind   `json:"type"`
	Exec                *ExecAction `json:"exec,omitempty"`
	InitialDelaySeconds *int        `json:"initialDelaySeconds,omitempty"`
	PeriodSeconds       *int        `json:"periodSeconds,omitempty"`
	TimeoutSeconds      *int        `json:"timeoutSeconds,omitempty"`
}

// ExecAction is a command-vector probe action.
type ExecAction struct {
	Command []string `json:"command" yaml:"command"`
}

// StorageKind is the kind of mountable storage.
type StorageKind string

const (
	StoragePersistent StorageKind = "persistent"
	StorageEphemeral  StorageKind = "ephemeral"
	StorageConfig     StorageKind = "config"
)

// StorageTrait mounts storage into the container.
type StorageTrait struct {
	Type       StorageKind `json:"type"`
	Name       string      `json:"name"`
	MountPath  string      `json:"mountPath"`
	SubPath    string      `json:"subPath,omitempty"`
	Size       string      `json:"size,omitempty"`
	SourceName string      `json:"sourceName,omitempty"`
}

// SidecarTrait is an extra container running next to the main one.
type SidecarTrait struct {
	Name    string   `json:"name"`
	Image   string   `json:"image"`
	Command []string `json:"command,omitempty"`
	Traits  *Traits  `json:"traits,omitempty"`
}

// InitTrait is a container that runs to completion before the main one.
type InitTrait struct {
	Name    string            `json:"name"`
	Image   string            `json:"image,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Command []string          `json:"command,omitempty"`
	Traits  *Traits           `json:"traits,omitempty"`
}

// RBACTrait grants the component a service account bound to a role.
type RBACTrait struct {
	ServiceAccount string            `json:"serviceAccount"`
	RoleName       string            `json:"roleName"`
	BindingName    string            `json:"bindingName"`
	Rules          []RBACRule        `json:"rules"`
	RoleLabels     map[string]string `json:"roleLabels,omitempty"`
}

// RBACRule is one policy rule of a role.
type RBACRule struct {
	APIGroups []string `json:"apiGroups" yaml:"apiGroups"`
	Resources []string `json:"resources" yaml:"resources"`
	Verbs     []string `json:"verbs" yaml:"verbs"`
}

// ResourceTrait requests compute resources. Values are Kubernetes quantities.
type ResourceTrait struct {
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
	GPU    string `json:"gpu,omitempty"`
}

// --- Canonical forms ---

// Canonical returns the compiled env binding. When both sources are set the
// secret reference wins so the output keeps the two mutually exclusive.
func (e EnvTrait) Canonical() EnvSpec {
	out := EnvSpec{Name: e.Name}
	switch {
	case e.ValueFrom.Secret != nil:
		ref := *e.ValueFrom.Secret
		out.ValueFrom.Secret = &ref
	case e.ValueFrom.Field != nil:
		f := *e.ValueFrom.Field
		out.ValueFrom.Field = &f
	}
	return out
}

// Canonical returns the compiled probe. Negative timings are dropped.
func (p ProbeTrait) Canonical() ProbeSpec {
	out := ProbeSpec{
		Type:                p.Type,
		InitialDelaySeconds: nonNegative(p.InitialDelaySeconds),
		PeriodSeconds:       nonNegative(p.PeriodSeconds),
		TimeoutSeconds:      nonNegative(p.TimeoutSeconds),
	}
	if p.Exec != nil && len(p.Exec.Command) > 0 {
		out.Exec = &ExecAction{Command: append([]string(nil), p.Exec.Command...)}
	}
	return out
}

// Canonical returns the compiled storage mount; optional fields stay empty
// and are omitted on output.
func (s StorageTrait) Canonical() StorageSpec {
	return StorageSpec{
		Type:       s.Type,
		Name:       s.Name,
		MountPath:  s.MountPath,
		SubPath:    s.SubPath,
		Size:       s.Size,
		SourceName: s.SourceName,
	}
}

// Canonical returns the compiled sidecar with only env and storage nested traits.
func (s SidecarTrait) Canonical() SidecarSpec {
	return SidecarSpec{
		Name:    s.Name,
		Image:   s.Image,
		Command: nonEmptyStrings(s.Command),
		Traits:  nestedCanonical(s.Traits),
	}
}

// Canonical returns the compiled init container with only env and storage nested traits.
func (i InitTrait) Canonical() InitSpec {
	out := InitSpec{
		Name: i.Name,
		Properties: InitProperties{
			Image:   i.Image,
			Command: nonEmptyStrings(i.Command),
		},
		Traits: nestedCanonical(i.Traits),
	}
	if len(i.Env) > 0 {
		out.Properties.Env = copyMap(i.Env)
	}
	return out
}

// Canonical returns the compiled RBAC grant. Rules pass through verbatim.
func (r RBACTrait) Canonical() RBACSpec {
	out := RBACSpec{
		ServiceAccount: r.ServiceAccount,
		RoleName:       r.RoleName,
		BindingName:    r.BindingName,
		Rules:          append([]RBACRule(nil), r.Rules...),
	}
	if len(r.RoleLabels) > 0 {
		out.RoleLabels = copyMap(r.RoleLabels)
	}
	return out
}

// Canonical returns the set subset of cpu/memory/gpu, or nil when none is set.
func (r *ResourceTrait) Canonical() *ResourceSpec {
	if r == nil || (r.CPU == "" && r.Memory == "" && r.GPU == "") {
		return nil
	}
	return &ResourceSpec{CPU: r.CPU, Memory: r.Memory, GPU: r.GPU}
}

// nestedCanonical converts the env and storage sub-traits of a container and
// drops everything else. Returns nil when both are empty.
func nestedCanonical(t *Traits) *NestedTraitsSpec {
	if t == nil {
		return nil
	}
	out := &NestedTraitsSpec{}
	for _, e := range t.Envs {
		out.Envs = append(out.Envs, e.Canonical())
	}
	for _, s := range t.Storage {
		out.Storage = append(out.Storage, s.Canonical())
	}
	if len(out.Envs) == 0 && len(out.Storage) == 0 {
		return nil
	}
	return out
}

func nonNegative(v *int) *int {
	if v == nil || *v < 0 {
		return nil
	}
	n := *v
	return &n
}

func nonEmptyStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s...)
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
