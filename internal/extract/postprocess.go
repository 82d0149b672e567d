// internal/extract/postprocess.go - Post-processing directives for extracted values
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/velcourt/pageharvest/pkg/types"
)

var (
	spaceRe  = regexp.MustCompile(`\s+`)
	numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

// ApplyRules runs the post-processing directives over an extracted string
// value in order. Numeric coercion directives change the value type, so
// they must appear last; a directive after a coercion fails.
func ApplyRules(value string, rules []types.ProcessRule, base *url.URL) (interface{}, error) {
	var out interface{} = value
	for i, rule := range rules {
		str, ok := out.(string)
		if !ok {
			return nil, fmt.Errorf("rule %d (%s) follows a numeric coercion", i, rule.Type)
		}
		next, err := applyRule(str, rule, base)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s) failed: %w", i, rule.Type, err)
		}
		out = next
	}
	return out, nil
}

func applyRule(input string, rule types.ProcessRule, base *url.URL) (interface{}, error) {
	switch rule.Type {
	case "trim":
		return strings.TrimSpace(input), nil

	case "normalize_spaces":
		return spaceRe.ReplaceAllString(strings.TrimSpace(input), " "), nil

	case "lowercase":
		return strings.ToLower(input), nil

	case "uppercase":
		return strings.ToUpper(input), nil

	case "normalize_unicode":
		// NFC composition plus east-asian width folding, so visually
		// identical strings compare equal downstream.
		return norm.NFC.String(width.Fold.String(input)), nil

	case "remove_html":
		re := regexp.MustCompile(`<[^>]*>`)
		return re.ReplaceAllString(input, ""), nil

	case "extract_number":
		match := numberRe.FindString(strings.ReplaceAll(input, ",", ""))
		if match == "" {
			return "", fmt.Errorf("no number in %q", input)
		}
		return match, nil

	case "regex":
		if rule.Pattern == "" {
			return "", fmt.Errorf("regex pattern is required")
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return "", fmt.Errorf("invalid pattern: %w", err)
		}
		return re.ReplaceAllString(input, rule.Replacement), nil

	case "replace":
		if rule.Params == nil || rule.Params["old"] == nil || rule.Params["new"] == nil {
			return "", fmt.Errorf("replace requires old and new parameters")
		}
		oldStr := fmt.Sprintf("%v", rule.Params["old"])
		newStr := fmt.Sprintf("%v", rule.Params["new"])
		return strings.ReplaceAll(input, oldStr, newStr), nil

	case "prefix":
		if rule.Params == nil || rule.Params["value"] == nil {
			return "", fmt.Errorf("prefix requires value parameter")
		}
		return fmt.Sprintf("%v", rule.Params["value"]) + input, nil

	case "suffix":
		if rule.Params == nil || rule.Params["value"] == nil {
			return "", fmt.Errorf("suffix requires value parameter")
		}
		return input + fmt.Sprintf("%v", rule.Params["value"]), nil

	case "normalize_url":
		return normalizeURL(input, base)

	case "parse_int":
		cleaned := strings.ReplaceAll(strings.TrimSpace(input), ",", "")
		val, err := strconv.Atoi(cleaned)
		if err != nil {
			return nil, fmt.Errorf("parse_int of %q: %w", input, err)
		}
		return val, nil

	case "parse_float":
		cleaned := strings.ReplaceAll(strings.TrimSpace(input), ",", "")
		val, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, fmt.Errorf("parse_float of %q: %w", input, err)
		}
		return val, nil

	default:
		return nil, fmt.Errorf("unknown rule type %q", rule.Type)
	}
}

// normalizeURL resolves a possibly relative reference against the page
// URL and strips the fragment.
func normalizeURL(input string, base *url.URL) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(input))
	if err != nil {
		return "", fmt.Errorf("malformed URL %q: %w", input, err)
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	ref.Fragment = ""
	return ref.String(), nil
}

// ValidateRules checks a rule list at template-load time so bad
// directives fail before any page is fetched.
func ValidateRules(rules []types.ProcessRule) error {
	coerced := false
	for i, rule := range rules {
		if coerced {
			return fmt.Errorf("rule %d (%s) appears after a numeric coercion", i, rule.Type)
		}
		switch rule.Type {
		case "trim", "normalize_spaces", "lowercase", "uppercase",
			"normalize_unicode", "remove_html", "extract_number", "normalize_url":
		case "parse_int", "parse_float":
			coerced = true
		case "regex":
			if rule.Pattern == "" {
				return fmt.Errorf("rule %d: regex requires a pattern", i)
			}
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				return fmt.Errorf("rule %d: invalid pattern: %w", i, err)
			}
		case "replace":
			if rule.Params == nil || rule.Params["old"] == nil || rule.Params["new"] == nil {
				return fmt.Errorf("rule %d: replace requires old and new parameters", i)
			}
		case "prefix", "suffix":
			if rule.Params == nil || rule.Params["value"] == nil {
				return fmt.Errorf("rule %d: %s requires value parameter", i, rule.Type)
			}
		default:
			return fmt.Errorf("rule %d: unknown rule type %q", i, rule.Type)
		}
	}
	return nil
}
