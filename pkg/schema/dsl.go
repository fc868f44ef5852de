package schema

// Document is the compiled application description submitted to the backend.
type Document struct {
	Name        string      `json:"name" yaml:"name"`
	Alias       string      `json:"alias" yaml:"alias"`
	Version     string      `json:"version" yaml:"version"`
	Project     string      `json:"project" yaml:"project"`
	Description string      `json:"description" yaml:"description"`
	Component   []Component `json:"component" yaml:"component"`
}

// Component is one compiled node. Image is nil for config/secret kinds and
// points at an empty string for service-like kinds without an image.
type Component struct {
	Name       string        `json:"name" yaml:"name"`
	Type       ComponentKind `json:"type" yaml:"type"`
	Replicas   int           `json:"replicas" yaml:"replicas"`
	Image      *string       `json:"image,omitempty" yaml:"image,omitempty"`
	Properties Properties    `json:"properties" yaml:"properties"`
	Traits     *TraitsSpec   `json:"traits,omitempty" yaml:"traits,omitempty"`
}

// Properties holds the kind-specific payload of a component.
type Properties struct {
	Ports   []PortSpec        `json:"ports,omitempty" yaml:"ports,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Conf    map[string]string `json:"conf,omitempty" yaml:"conf,omitempty"`
	Secret  map[string]string `json:"secret,omitempty" yaml:"secret,omitempty"`
	Command []string          `json:"command,omitempty" yaml:"command,omitempty"`
}

// PortSpec is a parsed container port.
type PortSpec struct {
	Port int `json:"port" yaml:"port"`
}

// TraitsSpec is the canonical trait bundle. Empty sub-fields are omitted.
type TraitsSpec struct {
	Envs     []EnvSpec     `json:"envs,omitempty" yaml:"envs,omitempty"`
	Probes   []ProbeSpec   `json:"probes,omitempty" yaml:"probes,omitempty"`
	Storage  []StorageSpec `json:"storage,omitempty" yaml:"storage,omitempty"`
	Sidecar  []SidecarSpec `json:"sidecar,omitempty" yaml:"sidecar,omitempty"`
	Init     []InitSpec    `json:"init,omitempty" yaml:"init,omitempty"`
	RBAC     []RBACSpec    `json:"rbac,omitempty" yaml:"rbac,omitempty"`
	Resource *ResourceSpec `json:"resource,omitempty" yaml:"resource,omitempty"`
}

// IsEmpty reports whether no sub-field carries output.
func (t *TraitsSpec) IsEmpty() bool {
	return t == nil || (len(t.Envs) == 0 && len(t.Probes) == 0 && len(t.Storage) == 0 &&
		len(t.Sidecar) == 0 && len(t.Init) == 0 && len(t.RBAC) == 0 && t.Resource == nil)
}

// NestedTraitsSpec is the trait subset allowed on sidecar and init containers.
type NestedTraitsSpec struct {
	Envs    []EnvSpec     `json:"envs,omitempty" yaml:"envs,omitempty"`
	Storage []StorageSpec `json:"storage,omitempty" yaml:"storage,omitempty"`
}

type EnvSpec struct {
	Name      string    `json:"name" yaml:"name"`
	ValueFrom EnvSource `json:"valueFrom" yaml:"valueFrom"`
}

type ProbeSpec struct {
	Type                ProbeKind   `json:"type" yaml:"type"`
	Exec                *ExecAction `json:"exec,omitempty" yaml:"exec,omitempty"`
	InitialDelaySeconds *int        `json:"initialDelaySeconds,omitempty" yaml:"initialDelaySeconds,omitempty"`
	PeriodSeconds       *int        `json:"periodSeconds,omitempty" yaml:"periodSeconds,omitempty"`
	TimeoutSeconds      *int        `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
}

type StorageSpec struct {
	Type       StorageKind `json:"type" yaml:"type"`
	Name       string      `json:"name" yaml:"name"`
	MountPath  string      `json:"mountPath" yaml:"mountPath"`
	SubPath    string      `json:"subPath,omitempty" yaml:"subPath,omitempty"`
	Size       string      `json:"size,omitempty" yaml:"size,omitempty"`
	SourceName string      `json:"sourceName,omitempty" yaml:"sourceName,omitempty"`
}

type SidecarSpec struct {
	Name    string            `json:"name" yaml:"name"`
	Image   string            `json:"image" yaml:"image"`
	Command []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Traits  *NestedTraitsSpec `json:"traits,omitempty" yaml:"traits,omitempty"`
}

// InitSpec nests the container fields under properties.
type InitSpec struct {
	Name       string            `json:"name" yaml:"name"`
	Properties InitProperties    `json:"properties" yaml:"properties"`
	Traits     *NestedTraitsSpec `json:"traits,omitempty" yaml:"traits,omitempty"`
}

type InitProperties struct {
	Image   string            `json:"image,omitempty" yaml:"image,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Command []string          `json:"command,omitempty" yaml:"command,omitempty"`
}

type RBACSpec struct {
	ServiceAccount string            `json:"serviceAccount" yaml:"serviceAccount"`
	RoleName       string            `json:"roleName" yaml:"roleName"`
	BindingName    string            `json:"bindingName" yaml:"bindingName"`
	Rules          []RBACRule        `json:"rules" yaml:"rules"`
	RoleLabels     map[string]string `json:"roleLabels,omitempty" yaml:"roleLabels,omitempty"`
}

type ResourceSpec struct {
	CPU    string `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Memory string `json:"memory,omitempty" yaml:"memory,omitempty"`
	GPU    string `json:"gpu,omitempty" yaml:"gpu,omitempty"`
}
