// Package compiler turns a canvas graph into the application document
// consumed by the backend. Compilation is total: malformed node data degrades
// to defaults instead of failing.
package compiler

import (
	"strconv"
	"strings"

	"github.com/rendis/shipyard/pkg/schema"
)

// DefaultReplicas is used when a node declares no positive replica count.
const DefaultReplicas = 1

// Compile produces one component per node, in input order, plus the metadata.
func Compile(meta schema.ProjectMeta, nodes []schema.GraphNode) *schema.Document {
	doc := &schema.Document{
		Name:        meta.Name,
		Alias:       meta.Alias,
		Version:     meta.Version,
		Project:     meta.Project,
		Description: meta.Description,
		Component:   make([]schema.Component, 0, len(nodes)),
	}
	for _, n := range nodes {
		doc.Component = append(doc.Component, CompileNode(n))
	}
	return doc
}

// CompileNode compiles a single graph node.
func CompileNode(node schema.GraphNode) schema.Component {
	kind := ResolveKind(node)

	c := schema.Component{
		Name:     node.Name,
		Type:     kind,
		Replicas: node.Replicas,
	}
	if c.Replicas <= 0 {
		c.Replicas = DefaultReplicas
	}

	if kind.IsDataKind() {
		if kind == schema.KindSecret {
			c.Properties.Secret = entryMap(node.SecretData)
		} else {
			c.Properties.Conf = entryMap(node.ConfigData)
		}
		return c
	}

	image := node.Image
	c.Image = &image

	c.Properties.Ports = parsePorts(node.Ports)
	c.Properties.Env = plainEnv(node.Env)
	if len(node.Command) > 0 {
		c.Properties.Command = append([]string(nil), node.Command...)
	}

	c.Traits = SourceOf(node).Normalize()
	return c
}

// ResolveKind returns the output kind of a node. The recorded original kind
// wins over the declared one. The dual config-secret kind becomes secret only
// when secret entries exist and config entries do not; otherwise config.
func ResolveKind(node schema.GraphNode) schema.ComponentKind {
	kind := node.Kind
	if node.OriginalKind != "" {
		kind = node.OriginalKind
	}
	if kind != schema.KindConfigSecret {
		return kind
	}
	if len(node.SecretData) > 0 && len(node.ConfigData) == 0 {
		return schema.KindSecret
	}
	return schema.KindConfig
}

// ParsePort converts a declared port to an integer, 0 when unparsable.
func ParsePort(p schema.PortValue) int {
	n, err := strconv.Atoi(strings.TrimSpace(string(p)))
	if err != nil {
		return 0
	}
	return n
}

func parsePorts(ports []schema.PortValue) []schema.PortSpec {
	if len(ports) == 0 {
		return nil
	}
	out := make([]schema.PortSpec, 0, len(ports))
	for _, p := range ports {
		out = append(out, schema.PortSpec{Port: ParsePort(p)})
	}
	return out
}

// plainEnv keeps only entries not flagged secret. Entries with a blank key
// are skipped. Nil when nothing survives.
func plainEnv(entries []schema.EnvEntry) map[string]string {
	var env map[string]string
	for _, e := range entries {
		if e.Secret || e.Key == "" {
			continue
		}
		if env == nil {
			env = make(map[string]string)
		}
		env[e.Key] = e.Value
	}
	return env
}

// entryMap converts data entries to a map, skipping blank keys. Later
// duplicates win. Nil when nothing survives.
func entryMap(entries []schema.KeyValue) map[string]string {
	var m map[string]string
	for _, e := range entries {
		if e.Key == "" {
			continue
		}
		if m == nil {
			m = make(map[string]string, len(entries))
		}
		m[e.Key] = e.Value
	}
	return m
}
