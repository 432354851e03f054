package assess

import (
	"strings"

	"newsflow/internal/config"
	"newsflow/internal/domain"
)

// Verification statuses reported on archived records.
const (
	StatusVerified   = "verified"
	StatusUnverified = "unverified"
	StatusSuspicious = "suspicious"
)

// Hosts below this combined score are dropped from the batch.
const verifyFloor = 0.3

// Domain fragments typical of throwaway or shortened hosting.
var suspiciousPatterns = []string{".tk", ".ml", ".ga", ".cf", ".gq", "bit.ly", "tinyurl"}

// VerificationResult is one item's source trust verdict.
type VerificationResult struct {
	Score    float64
	Status   string
	Warnings []string
	Pass     bool
}

// Verifier checks the item's source host against trust signals: the
// configured whitelist, throwaway-domain patterns, and transport security.
type Verifier struct {
	whitelist []string
}

// NewVerifier builds the gate from configuration.
func NewVerifier(cfg config.VerificationConfig) *Verifier {
	return &Verifier{whitelist: cfg.SourceWhitelist}
}

// Verify scores one item's source. The source signal is blended with a
// neutral base so a single weak signal demotes the status without dropping
// the item outright.
func (v *Verifier) Verify(item domain.Item) VerificationResult {
	sourceScore, warnings := v.sourceScore(item.URL)
	score := clamp(0.5*0.6 + sourceScore*0.4)

	status := StatusSuspicious
	switch {
	case score >= 0.7:
		status = StatusVerified
	case score >= 0.4:
		status = StatusUnverified
	}

	return VerificationResult{
		Score:    score,
		Status:   status,
		Warnings: warnings,
		Pass:     score >= verifyFloor,
	}
}

func (v *Verifier) sourceScore(rawURL string) (float64, []string) {
	host := hostOf(rawURL)
	if host == "" {
		return 0.3, []string{"source host could not be parsed"}
	}

	for _, trusted := range v.whitelist {
		if strings.Contains(host, strings.ToLower(trusted)) {
			return 1.0, nil
		}
	}

	score := 0.5
	var warnings []string
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(host, pattern) {
			score = 0.2
			warnings = append(warnings, "suspicious domain pattern: "+pattern)
			break
		}
	}

	if strings.HasPrefix(rawURL, "https://") {
		score = min(score+0.2, 1.0)
	} else {
		score = max(score-0.2, 0.0)
		warnings = append(warnings, "non-HTTPS source")
	}

	return clamp(score), warnings
}
