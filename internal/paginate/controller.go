// internal/paginate/controller.go
package paginate

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"sort"
	"strings"

	"github.com/velcourt/pageharvest/pkg/types"
)

// LinkDocument is the slice of the query capability pagination needs:
// resolving the next-page link out of the current document.
type LinkDocument interface {
	Attr(selector, attribute string) (string, bool)
}

// Controller decides whether another page should be fetched and how to
// locate it. One controller serves one page chain; it keeps the rolling
// duplicate-detection window across calls.
type Controller struct {
	spec   types.PaginationSpec
	window []map[string]string
}

// NewController creates a pagination controller for one page chain
func NewController(spec types.PaginationSpec) *Controller {
	if spec.DuplicateWindow <= 0 {
		spec.DuplicateWindow = 10
	}
	if spec.SimilarityThreshold <= 0 {
		spec.SimilarityThreshold = 1.0
	}
	if spec.NextAttribute == "" {
		spec.NextAttribute = "href"
	}
	return &Controller{spec: spec}
}

// NextURL returns the absolute URL of the next page, or ok=false when a
// stop condition holds: the page budget is spent, the record duplicates
// the rolling window, or no next-page selector matches.
func (c *Controller) NextURL(record map[string]interface{}, doc LinkDocument, currentURL string, pagesSoFar int) (string, bool) {
	if c.spec.MaxPages > 0 && pagesSoFar >= c.spec.MaxPages {
		return "", false
	}

	if record != nil {
		fp := fingerprint(record)
		if c.isDuplicate(fp) {
			return "", false
		}
		c.remember(fp)
	}

	if c.spec.NextSelector == "" || doc == nil {
		return "", false
	}
	ref, ok := doc.Attr(c.spec.NextSelector, c.spec.NextAttribute)
	if !ok || strings.TrimSpace(ref) == "" {
		return "", false
	}

	next, err := resolve(currentURL, ref)
	if err != nil {
		return "", false
	}
	// A next link pointing at the current page would loop forever.
	if next == currentURL {
		return "", false
	}
	return next, true
}

// isDuplicate compares the record against the window. It is a duplicate
// when its best field-level similarity to any remembered record reaches
// the configured threshold.
func (c *Controller) isDuplicate(fp map[string]string) bool {
	if len(fp) == 0 {
		return false
	}
	for _, seen := range c.window {
		if similarity(fp, seen) >= c.spec.SimilarityThreshold {
			return true
		}
	}
	return false
}

func (c *Controller) remember(fp map[string]string) {
	c.window = append(c.window, fp)
	if len(c.window) > c.spec.DuplicateWindow {
		c.window = c.window[len(c.window)-c.spec.DuplicateWindow:]
	}
}

// fingerprint reduces a record to comparable per-field hashes so the
// window holds no extracted payloads.
func fingerprint(record map[string]interface{}) map[string]string {
	fp := make(map[string]string, len(record))
	for k, v := range record {
		h := fnv.New64a()
		fmt.Fprintf(h, "%v", canonical(v))
		fp[k] = fmt.Sprintf("%x", h.Sum64())
	}
	return fp
}

// canonical renders collection values order-independently
func canonical(v interface{}) string {
	items, ok := v.([]interface{})
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%v", item))
	}
	sort.Strings(parts)
	return strings.Join(parts, "\x1f")
}

// similarity is the fraction of fields present in either record whose
// hashes agree.
func similarity(a, b map[string]string) float64 {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	if len(keys) == 0 {
		return 0
	}
	matched := 0
	for k := range keys {
		if av, ok := a[k]; ok {
			if bv, ok := b[k]; ok && av == bv {
				matched++
			}
		}
	}
	return float64(matched) / float64(len(keys))
}

func resolve(currentURL, ref string) (string, error) {
	base, err := url.Parse(currentURL)
	if err != nil {
		return "", fmt.Errorf("malformed current URL: %w", err)
	}
	next, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("malformed next link: %w", err)
	}
	resolved := base.ResolveReference(next)
	resolved.Fragment = ""
	return resolved.String(), nil
}
