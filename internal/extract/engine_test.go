// internal/extract/engine_test.go
package extract

import (
	"net/url"
	"testing"

	"github.com/velcourt/pageharvest/pkg/types"
)

const productHTML = `
<html><body>
	<h1 class="title">Gaming Laptop</h1>
	<div class="pricing"><span class="amount">$1,299.99</span></div>
	<ul class="tags">
		<li>electronics</li>
		<li>laptops</li>
		<li> </li>
	</ul>
	<a class="detail" href="/products/42">details</a>
	<span class="empty"></span>
</body></html>`

func parseTestDoc(t *testing.T, html string) Document {
	t.Helper()
	doc, err := ParseHTML(html)
	if err != nil {
		t.Fatalf("failed to parse fixture: %v", err)
	}
	return doc
}

func TestExtractPrimarySelectorPrecedence(t *testing.T) {
	doc := parseTestDoc(t, productHTML)
	// The fallback also matches but must never be consulted when the
	// primary matches.
	tmpl := &types.Template{
		Fields: []types.FieldSpec{{
			Name:      "title",
			Selector:  "h1.title",
			Fallbacks: []string{".pricing .amount"},
			Kind:      types.KindText,
			Required:  true,
		}},
	}

	result := NewEngine().Extract(doc, tmpl, nil)
	if got := result.Record["title"]; got != "Gaming Laptop" {
		t.Errorf("expected primary selector value, got %v", got)
	}
	if result.Coverage != 1.0 || result.Partial {
		t.Errorf("expected full coverage, got %f partial=%v", result.Coverage, result.Partial)
	}
}

func TestExtractFallbackChain(t *testing.T) {
	doc := parseTestDoc(t, productHTML)
	tests := []struct {
		name      string
		field     types.FieldSpec
		wantValue interface{}
		wantError bool
	}{
		{
			name: "first fallback used when primary misses",
			field: types.FieldSpec{
				Name:      "title",
				Selector:  ".missing",
				Fallbacks: []string{".also-missing", "h1.title"},
				Kind:      types.KindText,
				Required:  true,
			},
			wantValue: "Gaming Laptop",
		},
		{
			name: "required field with no match anywhere",
			field: types.FieldSpec{
				Name:      "sku",
				Selector:  ".sku",
				Fallbacks: []string{".product-sku"},
				Kind:      types.KindText,
				Required:  true,
			},
			wantError: true,
		},
		{
			name: "optional field with no match stays absent",
			field: types.FieldSpec{
				Name:     "subtitle",
				Selector: ".subtitle",
				Kind:     types.KindText,
			},
		},
	}

	engine := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := &types.Template{Fields: []types.FieldSpec{tt.field}}
			result := engine.Extract(doc, tmpl, nil)

			if tt.wantError {
				if len(result.FieldErrors) != 1 {
					t.Fatalf("expected 1 field error, got %d", len(result.FieldErrors))
				}
				if result.FieldErrors[0].FieldName != tt.field.Name {
					t.Errorf("field error names %q, want %q", result.FieldErrors[0].FieldName, tt.field.Name)
				}
				return
			}
			if len(result.FieldErrors) != 0 {
				t.Fatalf("unexpected field errors: %v", result.FieldErrors)
			}
			if tt.wantValue != nil && result.Record[tt.field.Name] != tt.wantValue {
				t.Errorf("expected %v, got %v", tt.wantValue, result.Record[tt.field.Name])
			}
			if tt.wantValue == nil {
				if _, present := result.Record[tt.field.Name]; present {
					t.Errorf("expected absent value for optional miss")
				}
			}
		})
	}
}

// Scenario: required title matches, required price misses everywhere.
// The record comes back partial with exactly one field error.
func TestExtractPartialRecordWithCoverage(t *testing.T) {
	doc := parseTestDoc(t, productHTML)
	tmpl := &types.Template{
		Fields: []types.FieldSpec{
			{Name: "title", Selector: "h1.title", Kind: types.KindText, Required: true},
			{Name: "price", Selector: ".price", Fallbacks: []string{".cost", ".value"}, Kind: types.KindText, Required: true},
		},
	}

	result := NewEngine().Extract(doc, tmpl, nil)
	if result.Record["title"] != "Gaming Laptop" {
		t.Errorf("expected title extracted, got %v", result.Record["title"])
	}
	if len(result.FieldErrors) != 1 || result.FieldErrors[0].FieldName != "price" {
		t.Fatalf("expected fieldErrors = [price], got %v", result.FieldErrors)
	}
	if result.Coverage >= 1.0 {
		t.Errorf("expected coverage < 1.0, got %f", result.Coverage)
	}
	if !result.Partial {
		t.Errorf("expected record flagged partial")
	}
}

func TestExtractEmptyFallbackListEquivalence(t *testing.T) {
	doc := parseTestDoc(t, productHTML)
	withNil := &types.Template{
		Fields: []types.FieldSpec{{Name: "title", Selector: "h1.title", Kind: types.KindText, Required: true}},
	}
	withEmpty := &types.Template{
		Fields: []types.FieldSpec{{Name: "title", Selector: "h1.title", Fallbacks: []string{}, Kind: types.KindText, Required: true}},
	}

	engine := NewEngine()
	a := engine.Extract(doc, withNil, nil)
	b := engine.Extract(doc, withEmpty, nil)

	if a.Record["title"] != b.Record["title"] {
		t.Errorf("nil and empty fallback lists diverged: %v vs %v", a.Record["title"], b.Record["title"])
	}
	if a.Coverage != b.Coverage || len(a.FieldErrors) != len(b.FieldErrors) {
		t.Errorf("nil and empty fallback lists produced different outcomes")
	}
}

func TestExtractAttributeKind(t *testing.T) {
	doc := parseTestDoc(t, productHTML)
	base, _ := url.Parse("https://shop.example.com/catalog")
	tmpl := &types.Template{
		Fields: []types.FieldSpec{{
			Name:        "detail_url",
			Selector:    "a.detail",
			Kind:        types.KindAttribute,
			Attribute:   "href",
			Required:    true,
			PostProcess: []types.ProcessRule{{Type: "normalize_url"}},
		}},
	}

	result := NewEngine().Extract(doc, tmpl, base)
	if got := result.Record["detail_url"]; got != "https://shop.example.com/products/42" {
		t.Errorf("expected resolved absolute URL, got %v", got)
	}
}

func TestExtractCollectionSemantics(t *testing.T) {
	doc := parseTestDoc(t, productHTML)
	engine := NewEngine()

	// Blank items are dropped; collection keeps the rest.
	tags := &types.Template{
		Fields: []types.FieldSpec{{
			Name:        "tags",
			Selector:    ".tags li",
			Kind:        types.KindCollection,
			PostProcess: []types.ProcessRule{{Type: "trim"}},
		}},
	}
	result := engine.Extract(doc, tags, nil)
	got, ok := result.Record["tags"].([]interface{})
	if !ok {
		t.Fatalf("expected collection value, got %T", result.Record["tags"])
	}
	if len(got) != 2 || got[0] != "electronics" || got[1] != "laptops" {
		t.Errorf("unexpected collection: %v", got)
	}

	// Zero matches yields an empty collection, not an error.
	missing := &types.Template{
		Fields: []types.FieldSpec{{Name: "links", Selector: ".nope a", Kind: types.KindCollection}},
	}
	result = engine.Extract(doc, missing, nil)
	if len(result.FieldErrors) != 0 {
		t.Errorf("empty collection must not fail: %v", result.FieldErrors)
	}
	if items := result.Record["links"].([]interface{}); len(items) != 0 {
		t.Errorf("expected empty collection, got %v", items)
	}

	// Unless explicitly required to be non-empty.
	strict := &types.Template{
		Fields: []types.FieldSpec{{Name: "links", Selector: ".nope a", Kind: types.KindCollection, RequireNonEmpty: true}},
	}
	result = engine.Extract(doc, strict, nil)
	if len(result.FieldErrors) != 1 {
		t.Errorf("expected non-empty requirement to fail, got %v", result.FieldErrors)
	}
}

func TestExtractEmptyValueFallsThrough(t *testing.T) {
	doc := parseTestDoc(t, productHTML)

	// .empty matches but yields an empty string, so the fallback wins.
	tmpl := &types.Template{
		Fields: []types.FieldSpec{{
			Name:      "label",
			Selector:  ".empty",
			Fallbacks: []string{"h1.title"},
			Kind:      types.KindText,
			Required:  true,
		}},
	}
	result := NewEngine().Extract(doc, tmpl, nil)
	if got := result.Record["label"]; got != "Gaming Laptop" {
		t.Errorf("expected fallback after empty match, got %v", got)
	}

	// With AllowEmpty the empty match is accepted as-is.
	tmpl.Fields[0].AllowEmpty = true
	result = NewEngine().Extract(doc, tmpl, nil)
	if got := result.Record["label"]; got != "" {
		t.Errorf("expected empty string with AllowEmpty, got %v", got)
	}
}

func TestExtractSuggestedFallbacksRequireTrust(t *testing.T) {
	doc := parseTestDoc(t, productHTML)
	tmpl := &types.Template{
		Fields: []types.FieldSpec{{
			Name:     "title",
			Selector: ".missing",
			Kind:     types.KindText,
			Required: true,
		}},
		SuggestedFallbacks: map[string][]string{"title": {"h1.title"}},
	}

	engine := NewEngine()
	result := engine.Extract(doc, tmpl, nil)
	if len(result.FieldErrors) != 1 {
		t.Fatalf("untrusted suggestions must not be applied, got record %v", result.Record)
	}

	tmpl.TrustSuggestions = true
	result = engine.Extract(doc, tmpl, nil)
	if got := result.Record["title"]; got != "Gaming Laptop" {
		t.Errorf("trusted suggestion not applied, got %v", got)
	}
}

func TestExtractAbortOnRequiredFailure(t *testing.T) {
	doc := parseTestDoc(t, productHTML)
	tmpl := &types.Template{
		AbortOnRequiredFailure: true,
		Fields: []types.FieldSpec{
			{Name: "sku", Selector: ".sku", Kind: types.KindText, Required: true},
			{Name: "title", Selector: "h1.title", Kind: types.KindText, Required: true},
		},
	}

	result := NewEngine().Extract(doc, tmpl, nil)
	if _, present := result.Record["title"]; present {
		t.Errorf("expected processing to stop after required failure")
	}
	if result.Coverage != 0 {
		t.Errorf("expected zero coverage, got %f", result.Coverage)
	}
}
