// internal/fetch/detector.go - Automated-traffic defense detection heuristics
package fetch

import (
	"net/http"
	"strings"

	"github.com/velcourt/pageharvest/internal/errors"
	"github.com/velcourt/pageharvest/pkg/types"
)

// Detector is a pluggable predicate deciding whether a response is an
// automated-traffic defense rather than real content. Detection is
// inherently fuzzy and version-drifting, so it is swappable per pipeline
// instance instead of a fixed rule set.
type Detector func(raw *types.RawDocument) (detected bool, reasonCode string)

// challengeMarkers are body substrings that identify known challenge
// interstitials. Compared lowercase.
var challengeMarkers = []string{
	"cf-browser-verification",
	"cf-chl-",
	"checking your browser before accessing",
	"attention required! | cloudflare",
	"/cdn-cgi/challenge-platform/",
	"ddos protection by",
	"px-captcha",
	"_incapsula_",
	"distil_r_captcha",
	"are you a robot",
	"unusual traffic from your computer network",
	"please enable javascript and cookies",
	"g-recaptcha",
	"h-captcha",
}

// challengeStatuses are statuses that indicate a defense when paired with
// a challenge header or a near-empty body.
var challengeStatuses = map[int]bool{
	http.StatusForbidden:          true,
	http.StatusTooManyRequests:    true,
	http.StatusServiceUnavailable: true,
}

// DefaultDetector matches known challenge markers in the body and
// status/header patterns typical of fronting defenses.
func DefaultDetector(raw *types.RawDocument) (bool, string) {
	if raw == nil {
		return false, ""
	}

	body := strings.ToLower(raw.Body)
	for _, marker := range challengeMarkers {
		if strings.Contains(body, marker) {
			return true, errors.ReasonChallengeMarker
		}
	}

	if challengeStatuses[raw.StatusCode] {
		if hasHeader(raw, "Cf-Ray") || (hasHeader(raw, "Server-Timing") && strings.Contains(body, "challenge")) {
			return true, errors.ReasonStatusPattern
		}
		// Rate-limit style rejections carry no real page.
		if raw.StatusCode == http.StatusTooManyRequests && len(raw.Body) < 4096 {
			return true, errors.ReasonStatusPattern
		}
	}

	return false, ""
}

func hasHeader(raw *types.RawDocument, name string) bool {
	if raw.Header == nil {
		return false
	}
	for key := range raw.Header {
		if strings.EqualFold(key, name) {
			return true
		}
	}
	return false
}
