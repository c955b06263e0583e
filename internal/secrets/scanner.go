package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// previewLen is how much of a secret a redaction marker keeps
const previewLen = 4

// Finding represents a detected secret with location information.
type Finding struct {
	RuleID      string // gitleaks rule ID (e.g. "slack-bot-token")
	Description string
	Line        int
	StartCol    int
	EndCol      int
	Match       string
}

// Scanner wraps a gitleaks detector built from the default rule set. It is
// safe for concurrent use.
type Scanner struct {
	mu        sync.Mutex
	detector  *detect.Detector
	allowlist *Allowlist
}

// NewScanner builds the detector once; allowlist may be nil.
func NewScanner(allowlist *Allowlist) (*Scanner, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks rules: %w", err)
	}
	if allowlist != nil {
		if err := allowlist.compile(); err != nil {
			return nil, err
		}
		applyAllowlist(&detector.Config, allowlist)
	}
	return &Scanner{detector: detector, allowlist: allowlist}, nil
}

// Scan returns the secrets found in content. Files matching an allowlist
// path pattern are not scanned.
func (s *Scanner) Scan(fileName, content string) []Finding {
	if content == "" || s.allowlist.SkipsFile(fileName) {
		return nil
	}

	s.mu.Lock()
	found := s.detector.DetectString(content)
	s.mu.Unlock()

	findings := make([]Finding, 0, len(found))
	for _, f := range found {
		findings = append(findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			StartCol:    f.StartColumn,
			EndCol:      f.EndColumn,
			Match:       f.Secret,
		})
	}
	return findings
}

// applyAllowlist merges the match patterns into the gitleaks config.
// Patterns were compiled by the caller already.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "storyforge allowlist",
	}
	for _, pattern := range allowlist.Regexes {
		re := regexp.MustCompile(pattern)
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}

// Redact replaces every occurrence of each finding's match with a
// [REDACTED:rule-id:preview] marker.
func Redact(content string, findings []Finding) string {
	if len(findings) == 0 {
		return content
	}

	// longest first so a match containing another is replaced whole
	sorted := append([]Finding(nil), findings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Match) > len(sorted[j].Match)
	})

	for _, f := range sorted {
		if f.Match == "" {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Match))
		content = strings.ReplaceAll(content, f.Match, marker)
	}
	return content
}

func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen]
}

// RuleIDs returns the distinct rule ids of findings in sorted order
func RuleIDs(findings []Finding) []string {
	seen := make(map[string]struct{}, len(findings))
	var ids []string
	for _, f := range findings {
		if _, ok := seen[f.RuleID]; ok {
			continue
		}
		seen[f.RuleID] = struct{}{}
		ids = append(ids, f.RuleID)
	}
	sort.Strings(ids)
	return ids
}
