package validation

import (
	"fmt"
	"path"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"
	k8svalidation "k8s.io/apimachinery/pkg/util/validation"

	"github.com/rendis/shipyard/pkg/schema"
)

// validateSemantic checks what the JSON Schema cannot express: Kubernetes
// naming rules, quantities, mount paths and name collisions.
func validateSemantic(doc *schema.Document) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if strings.TrimSpace(doc.Name) == "" {
		result.AddError("name", schema.ErrCodeValidation, "application name is required")
	} else if msgs := k8svalidation.IsDNS1123Label(doc.Name); len(msgs) > 0 {
		result.AddWarning("name", schema.ErrCodeValidation,
			fmt.Sprintf("application name %q is not a DNS-1123 label: %s", doc.Name, strings.Join(msgs, "; ")))
	}
	if doc.Version == "" {
		result.AddWarning("version", schema.ErrCodeValidation, "application version is empty")
	}

	seen := make(map[string]int, len(doc.Component))
	for i := range doc.Component {
		c := &doc.Component[i]
		p := fmt.Sprintf("component[%d]", i)

		if first, dup := seen[c.Name]; dup {
			result.AddWarning(p+".name", schema.ErrCodeConflict,
				fmt.Sprintf("component name %q is also used by component[%d]; workflow steps will only reach one of them", c.Name, first))
		} else {
			seen[c.Name] = i
		}

		validateComponentSemantic(c, p, result)
	}

	return result
}

func validateComponentSemantic(c *schema.Component, p string, result *schema.ValidationResult) {
	if c.Name != "" {
		for _, msg := range k8svalidation.IsDNS1123Label(c.Name) {
			result.AddError(p+".name", schema.ErrCodeValidation, fmt.Sprintf("component name %q: %s", c.Name, msg))
		}
	}

	props := c.Properties
	ports := make(map[int]bool, len(props.Ports))
	for j, port := range props.Ports {
		pp := fmt.Sprintf("%s.properties.ports[%d]", p, j)
		if port.Port == 0 {
			result.AddWarning(pp, schema.ErrCodeValidation, "port is not a number and was compiled as 0")
			continue
		}
		if ports[port.Port] {
			result.AddWarning(pp, schema.ErrCodeConflict, fmt.Sprintf("port %d is declared twice", port.Port))
		}
		ports[port.Port] = true
	}

	checkKeys(props.Env, p+".properties.env", k8svalidation.IsEnvVarName, result)
	checkKeys(props.Conf, p+".properties.conf", k8svalidation.IsConfigMapKey, result)
	checkKeys(props.Secret, p+".properties.secret", k8svalidation.IsConfigMapKey, result)

	if c.Traits == nil {
		return
	}
	t := c.Traits
	tp := p + ".traits"

	for j, e := range t.Envs {
		for _, msg := range k8svalidation.IsEnvVarName(e.Name) {
			result.AddError(fmt.Sprintf("%s.envs[%d].name", tp, j), schema.ErrCodeValidation, msg)
		}
	}
	for j, s := range t.Storage {
		validateStorage(s, fmt.Sprintf("%s.storage[%d]", tp, j), result)
	}
	for j, sc := range t.Sidecar {
		sp := fmt.Sprintf("%s.sidecar[%d]", tp, j)
		if sc.Image == "" {
			result.AddError(sp+".image", schema.ErrCodeValidation, fmt.Sprintf("sidecar %q has no image", sc.Name))
		}
		validateNested(sc.Traits, sp, result)
	}
	for j, in := range t.Init {
		ip := fmt.Sprintf("%s.init[%d]", tp, j)
		if in.Properties.Image == "" {
			result.AddError(ip+".properties.image", schema.ErrCodeValidation, fmt.Sprintf("init container %q has no image", in.Name))
		}
		checkKeys(in.Properties.Env, ip+".properties.env", k8svalidation.IsEnvVarName, result)
		validateNested(in.Traits, ip, result)
	}
	for j, r := range t.RBAC {
		rp := fmt.Sprintf("%s.rbac[%d]", tp, j)
		if r.ServiceAccount == "" {
			result.AddError(rp+".serviceAccount", schema.ErrCodeValidation, "rbac grant needs a service account")
		}
		for k, rule := range r.Rules {
			if len(rule.Verbs) == 0 {
				result.AddWarning(fmt.Sprintf("%s.rules[%d].verbs", rp, k), schema.ErrCodeValidation, "rule grants no verbs")
			}
		}
	}
	if r := t.Resource; r != nil {
		checkQuantity(r.CPU, tp+".resource.cpu", result)
		checkQuantity(r.Memory, tp+".resource.memory", result)
		checkQuantity(r.GPU, tp+".resource.gpu", result)
	}
}

func validateNested(t *schema.NestedTraitsSpec, p string, result *schema.ValidationResult) {
	if t == nil {
		return
	}
	for j, e := range t.Envs {
		for _, msg := range k8svalidation.IsEnvVarName(e.Name) {
			result.AddError(fmt.Sprintf("%s.traits.envs[%d].name", p, j), schema.ErrCodeValidation, msg)
		}
	}
	for j, s := range t.Storage {
		validateStorage(s, fmt.Sprintf("%s.traits.storage[%d]", p, j), result)
	}
}

func validateStorage(s schema.StorageSpec, p string, result *schema.ValidationResult) {
	if s.MountPath != "" && !path.IsAbs(s.MountPath) {
		result.AddError(p+".mountPath", schema.ErrCodeValidation,
			fmt.Sprintf("mount path %q must be absolute", s.MountPath))
	}
	switch s.Type {
	case schema.StoragePersistent:
		if s.Size == "" {
			result.AddWarning(p+".size", schema.ErrCodeValidation,
				fmt.Sprintf("persistent volume %q has no size; the backend default applies", s.Name))
		}
		checkQuantity(s.Size, p+".size", result)
	case schema.StorageConfig:
		if s.SourceName == "" {
			result.AddError(p+".sourceName", schema.ErrCodeValidation,
				fmt.Sprintf("config volume %q needs a source name", s.Name))
		}
	}
}

func checkQuantity(v, p string, result *schema.ValidationResult) {
	if v == "" {
		return
	}
	if _, err := resource.ParseQuantity(v); err != nil {
		result.AddError(p, schema.ErrCodeValidation, fmt.Sprintf("%q is not a valid quantity", v))
	}
}

func checkKeys(m map[string]string, p string, check func(string) []string, result *schema.ValidationResult) {
	for k := range m {
		for _, msg := range check(k) {
			result.AddError(p+"."+k, schema.ErrCodeValidation, fmt.Sprintf("key %q: %s", k, msg))
		}
	}
}
