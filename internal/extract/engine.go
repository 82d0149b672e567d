// internal/extract/engine.go
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/velcourt/pageharvest/internal/utils"
	"github.com/velcourt/pageharvest/pkg/types"
)

// Result is the outcome of applying a template to one document. A record
// with coverage below 1.0 is still returned, flagged partial.
type Result struct {
	Record      map[string]interface{}
	FieldErrors []types.FieldError
	Coverage    float64
	Partial     bool
}

// Engine applies a template's field specifications to a fetched document,
// honoring fallback chains and required-field semantics.
type Engine struct {
	logger utils.Logger
}

// NewEngine creates an extraction engine
func NewEngine() *Engine {
	return &Engine{logger: utils.NewComponentLogger("extract")}
}

// Extract processes every field in declaration order: primary selector
// first, then each fallback. Field failures are recorded as data; the
// page is never aborted unless the template demands abort on required
// failure.
func (e *Engine) Extract(doc Document, tmpl *types.Template, pageURL *url.URL) *Result {
	result := &Result{Record: make(map[string]interface{})}

	requiredTotal := tmpl.RequiredFieldCount()
	requiredMatched := 0

	for _, field := range tmpl.Fields {
		value, fieldErr := e.extractField(doc, tmpl, field, pageURL)
		if fieldErr != nil {
			result.FieldErrors = append(result.FieldErrors, *fieldErr)
			if field.Required && tmpl.AbortOnRequiredFailure {
				break
			}
			continue
		}
		result.Record[field.Name] = value
		if field.Required {
			requiredMatched++
		}
	}

	if requiredTotal == 0 {
		result.Coverage = 1.0
	} else {
		result.Coverage = float64(requiredMatched) / float64(requiredTotal)
	}
	result.Partial = result.Coverage < 1.0
	return result
}

// extractField walks the selector chain for one field. It returns a
// FieldError only when the field is required and every selector missed,
// or a non-empty collection requirement was not met.
func (e *Engine) extractField(doc Document, tmpl *types.Template, field types.FieldSpec, pageURL *url.URL) (interface{}, *types.FieldError) {
	chain := append([]string{field.Selector}, tmpl.EffectiveFallbacks(field)...)

	if field.Kind == types.KindCollection {
		return e.extractCollection(doc, field, chain, pageURL)
	}

	var lastErr error
	for _, selector := range chain {
		raw, ok := e.rawValue(doc, field, selector)
		if !ok {
			continue
		}
		value, err := ApplyRules(raw, field.PostProcess, pageURL)
		if err != nil {
			lastErr = err
			continue
		}
		// Empty text after post-processing counts as a miss unless the
		// field explicitly allows empty strings.
		if s, isStr := value.(string); isStr && strings.TrimSpace(s) == "" && !field.AllowEmpty {
			continue
		}
		return value, nil
	}

	if !field.Required {
		return nil, nil
	}
	msg := "no selector matched"
	if lastErr != nil {
		msg = fmt.Sprintf("no selector yielded a usable value (last error: %v)", lastErr)
	}
	return nil, &types.FieldError{
		FieldName: field.Name,
		Selector:  field.Selector,
		Message:   msg,
	}
}

// extractCollection gathers every match of the first selector in the
// chain that matches anything. Zero matches across the whole chain is an
// empty collection, not a failure, unless the field requires non-empty.
func (e *Engine) extractCollection(doc Document, field types.FieldSpec, chain []string, pageURL *url.URL) (interface{}, *types.FieldError) {
	for _, selector := range chain {
		var raws []string
		if field.Attribute != "" {
			raws = doc.AttrAll(selector, field.Attribute)
		} else {
			raws = doc.TextAll(selector)
		}
		if len(raws) == 0 {
			continue
		}

		items := make([]interface{}, 0, len(raws))
		for _, raw := range raws {
			value, err := ApplyRules(raw, field.PostProcess, pageURL)
			if err != nil {
				e.logger.Debugf("collection item dropped for field %s: %v", field.Name, err)
				continue
			}
			if s, isStr := value.(string); isStr && strings.TrimSpace(s) == "" && !field.AllowEmpty {
				continue
			}
			items = append(items, value)
		}
		if len(items) > 0 {
			return items, nil
		}
	}

	if field.RequireNonEmpty {
		return nil, &types.FieldError{
			FieldName: field.Name,
			Selector:  field.Selector,
			Message:   "collection is empty but required non-empty",
		}
	}
	return []interface{}{}, nil
}

func (e *Engine) rawValue(doc Document, field types.FieldSpec, selector string) (string, bool) {
	switch field.Kind {
	case types.KindAttribute:
		return doc.Attr(selector, field.Attribute)
	default:
		return doc.Text(selector)
	}
}
