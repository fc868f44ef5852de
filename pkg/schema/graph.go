package schema

import (
	"encoding/json"
	"strings"
)

// ComponentKind enumerates the kinds of deployable components a graph node can declare.
type ComponentKind string

const (
	KindWebService ComponentKind = "webservice"
	KindStore      ComponentKind = "store"
	KindConfig     ComponentKind = "config"
	KindSecret     ComponentKind = "secret"

	// KindConfigSecret is the dual-purpose kind; the compiler resolves it to
	// config or secret by inspecting the attached data.
	KindConfigSecret ComponentKind = "config-secret"
)

// IsDataKind reports whether the kind carries key-value data instead of a container.
func (k ComponentKind) IsDataKind() bool {
	return k == KindConfig || k == KindSecret || k == KindConfigSecret
}

// GraphNode is one node of the canvas graph as handed over by the editor.
type GraphNode struct {
	ID           string        `json:"id"`
	Kind         ComponentKind `json:"type"`
	OriginalKind ComponentKind `json:"originalType,omitempty"`
	Name         string        `json:"name"`
	Image        string        `json:"image,omitempty"`
	Replicas     int           `json:"replicas,omitempty"`
	Ports        []PortValue   `json:"ports,omitempty"`
	Env          []EnvEntry    `json:"env,omitempty"`
	Command      []string      `json:"command,omitempty"`
	Traits       *Traits       `json:"traits,omitempty"`

	// Data entries, only meaningful for config/secret kinds.
	ConfigData []KeyValue `json:"configData,omitempty"`
	SecretData []KeyValue `json:"secretData,omitempty"`

	Position Position `json:"position"`

	LegacyProbes
}

// PortValue is a declared port as typed by the user. It accepts either a JSON
// string or a JSON number so that malformed input never fails decoding.
type PortValue string

func (p *PortValue) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = PortValue(s)
		return nil
	}
	*p = PortValue(strings.TrimSpace(string(b)))
	return nil
}

// EnvEntry is a plain environment variable declared on a node. Entries flagged
// Secret are sourced elsewhere and never land in the plain env map.
type EnvEntry struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Secret bool   `json:"secret,omitempty"`
}

// KeyValue is a single config or secret data entry.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Position is a canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge connects two graph nodes by id.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is a snapshot of the canvas.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []Edge      `json:"edges"`
}

// ProjectMeta is the application metadata carried into the compiled document.
type ProjectMeta struct {
	Name        string `json:"name"`
	Alias       string `json:"alias"`
	Version     string `json:"version"`
	Project     string `json:"project"`
	Description string `json:"description"`
}
