// internal/extract/template.go
package extract

import (
	"fmt"

	"github.com/velcourt/pageharvest/pkg/types"
)

// ValidateTemplate checks a template at load time: every field needs a
// name, a selector and a known kind, attribute fields must name their
// attribute, and post-processing rule lists must be well formed.
func ValidateTemplate(tmpl *types.Template) error {
	if tmpl == nil {
		return fmt.Errorf("template is nil")
	}
	if tmpl.Name == "" {
		return fmt.Errorf("template has no name")
	}
	if len(tmpl.Fields) == 0 {
		return fmt.Errorf("template %q has no fields", tmpl.Name)
	}

	seen := make(map[string]bool, len(tmpl.Fields))
	for _, field := range tmpl.Fields {
		if field.Name == "" || field.Selector == "" {
			return fmt.Errorf("template %q: every field needs a name and a selector", tmpl.Name)
		}
		if seen[field.Name] {
			return fmt.Errorf("template %q: duplicate field %q", tmpl.Name, field.Name)
		}
		seen[field.Name] = true
		if field.Kind != "" && !field.Kind.IsValid() {
			return fmt.Errorf("template %q: field %q has unknown kind %q", tmpl.Name, field.Name, field.Kind)
		}
		if field.Kind == types.KindAttribute && field.Attribute == "" {
			return fmt.Errorf("template %q: attribute field %q names no attribute", tmpl.Name, field.Name)
		}
		if err := ValidateRules(field.PostProcess); err != nil {
			return fmt.Errorf("template %q: field %q: %w", tmpl.Name, field.Name, err)
		}
	}

	if t := tmpl.Pagination.SimilarityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("template %q: similarity threshold %v outside [0,1]", tmpl.Name, t)
	}
	if tmpl.Pagination.MaxPages < 0 {
		return fmt.Errorf("template %q: max_pages cannot be negative", tmpl.Name)
	}
	return nil
}
