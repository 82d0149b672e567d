// internal/extract/postprocess_test.go
package extract

import (
	"net/url"
	"testing"

	"github.com/velcourt/pageharvest/pkg/types"
)

func TestApplyRules(t *testing.T) {
	base, _ := url.Parse("https://example.com/list?page=2")

	tests := []struct {
		name    string
		input   string
		rules   []types.ProcessRule
		want    interface{}
		wantErr bool
	}{
		{
			name:  "trim and normalize spaces",
			input: "  Gaming\t\tLaptop  ",
			rules: []types.ProcessRule{{Type: "trim"}, {Type: "normalize_spaces"}},
			want:  "Gaming Laptop",
		},
		{
			name:  "price to float",
			input: "$1,299.99",
			rules: []types.ProcessRule{{Type: "extract_number"}, {Type: "parse_float"}},
			want:  1299.99,
		},
		{
			name:  "count to int",
			input: "1,024 reviews",
			rules: []types.ProcessRule{{Type: "extract_number"}, {Type: "parse_int"}},
			want:  1024,
		},
		{
			name:  "regex replacement",
			input: "SKU: AB-123",
			rules: []types.ProcessRule{{Type: "regex", Pattern: `^SKU:\s*`, Replacement: ""}},
			want:  "AB-123",
		},
		{
			name:  "relative URL resolved and fragment stripped",
			input: "/items/7#reviews",
			rules: []types.ProcessRule{{Type: "normalize_url"}},
			want:  "https://example.com/items/7",
		},
		{
			name:  "fullwidth digits folded before coercion",
			input: "１２３",
			rules: []types.ProcessRule{{Type: "normalize_unicode"}, {Type: "parse_int"}},
			want:  123,
		},
		{
			name:  "replace with params",
			input: "out of stock",
			rules: []types.ProcessRule{{Type: "replace", Params: map[string]interface{}{"old": "out of stock", "new": "unavailable"}}},
			want:  "unavailable",
		},
		{
			name:    "rule after numeric coercion fails",
			input:   "42",
			rules:   []types.ProcessRule{{Type: "parse_int"}, {Type: "trim"}},
			wantErr: true,
		},
		{
			name:    "unknown rule type",
			input:   "x",
			rules:   []types.ProcessRule{{Type: "sparkle"}},
			wantErr: true,
		},
		{
			name:    "parse_int on non-numeric",
			input:   "n/a",
			rules:   []types.ProcessRule{{Type: "parse_int"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyRules(tt.input, tt.rules, base)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v (%T), got %v (%T)", tt.want, tt.want, got, got)
			}
		})
	}
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name    string
		rules   []types.ProcessRule
		wantErr bool
	}{
		{name: "empty list", rules: nil},
		{name: "well formed chain", rules: []types.ProcessRule{{Type: "trim"}, {Type: "extract_number"}, {Type: "parse_float"}}},
		{name: "regex without pattern", rules: []types.ProcessRule{{Type: "regex"}}, wantErr: true},
		{name: "bad regex pattern", rules: []types.ProcessRule{{Type: "regex", Pattern: "("}}, wantErr: true},
		{name: "replace without params", rules: []types.ProcessRule{{Type: "replace"}}, wantErr: true},
		{name: "rule after coercion", rules: []types.ProcessRule{{Type: "parse_int"}, {Type: "lowercase"}}, wantErr: true},
		{name: "unknown type", rules: []types.ProcessRule{{Type: "bogus"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRules(tt.rules)
			if tt.wantErr && err == nil {
				t.Errorf("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}
