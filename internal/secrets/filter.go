// Package secrets implements the two-stage sensitive-content filter: a
// path-glob check against known secret file names, then a content scan
// against a fixed set of credential-shaped patterns. Either stage
// rejecting a file is final; false positives are acceptable, false
// negatives are not.
package secrets

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/molaco/codeindex/internal/gitignore"
)

// MaxScanBytes bounds how much of a file's content is scanned for
// secrets. Scanning only the head of very large files keeps the filter
// cheap; credential-shaped strings in source files overwhelmingly appear
// near the top (imports, constant blocks, config literals).
const MaxScanBytes = 64 * 1024

// DefaultPathPatterns are glob patterns checked against a file's relative
// path before any content is read.
var DefaultPathPatterns = []string{
	".env",
	".env.*",
	"**/.ssh/**",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}

// Match describes one content-pattern hit.
type Match struct {
	PatternName string
	Line        int
}

// namedPattern pairs a human-readable name with its compiled regex.
type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// contentPatterns is the fixed regex set covering the credential shapes
// the filter must never miss.
var contentPatterns = []namedPattern{
	{"AWS Access Key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"Private Key", regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |)PRIVATE KEY-----`)},
	{"Generic API Key", regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?token)[\s:=]+['"]([^'"]{20,})['"]`)},
	{"Generic Secret", regexp.MustCompile(`(?i)(secret|password|passwd|pwd)[\s:=]+['"]([^'"]{8,})['"]`)},
	{"GitHub Token", regexp.MustCompile(`ghp_[0-9a-zA-Z]{36}`)},
	{"Slack Token", regexp.MustCompile(`xox[baprs]-[0-9a-zA-Z]{10,48}`)},
	{"Google API Key", regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
	{"Stripe API Key", regexp.MustCompile(`sk_live_[0-9a-zA-Z]{24}`)},
	{"Bearer Token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_.=]{20,}`)},
	{"JWT Token", regexp.MustCompile(`eyJ[A-Za-z0-9-_=]+\.eyJ[A-Za-z0-9-_=]+\.?[A-Za-z0-9-_.+/=]*`)},
}

// Filter decides whether a file should be indexed based on its path and
// content.
type Filter struct {
	pathPatterns []string
}

// New creates a Filter with the default path-glob patterns.
func New() *Filter {
	return &Filter{pathPatterns: DefaultPathPatterns}
}

// NewWithPathPatterns creates a Filter using a caller-supplied glob set
// instead of DefaultPathPatterns.
func NewWithPathPatterns(patterns []string) *Filter {
	return &Filter{pathPatterns: patterns}
}

// ShouldIndex reports whether relPath and content pass both filter
// stages. content may be truncated by the caller; ShouldIndex itself
// bounds its scan to MaxScanBytes.
func (f *Filter) ShouldIndex(relPath string, content []byte) bool {
	if f.rejectsPath(relPath) {
		return false
	}
	return !f.ContainsSecret(content)
}

// rejectsPath reports whether relPath matches any configured glob.
func (f *Filter) rejectsPath(relPath string) bool {
	return gitignore.MatchesAnyPattern(relPath, f.pathPatterns)
}

// ContainsSecret scans content for any known credential pattern.
func (f *Filter) ContainsSecret(content []byte) bool {
	return len(f.Scan(content)) > 0
}

// Scan returns every content-pattern match found in the first
// MaxScanBytes of content, with 1-based line numbers.
func (f *Filter) Scan(content []byte) []Match {
	if len(content) > MaxScanBytes {
		content = content[:MaxScanBytes]
	}

	var matches []Match
	lines := bytes.Split(content, []byte("\n"))
	for _, p := range contentPatterns {
		for i, line := range lines {
			if p.re.Match(line) {
				matches = append(matches, Match{PatternName: p.name, Line: i + 1})
			}
		}
	}
	return matches
}

// Summary renders a human-readable report of Scan's output, used in
// diagnostic logging when a file is rejected.
func Summary(matches []Match) string {
	if len(matches) == 0 {
		return "no secrets detected"
	}
	out := fmt.Sprintf("found %d potential secret(s):\n", len(matches))
	for _, m := range matches {
		out += fmt.Sprintf("  - %s at line %d\n", m.PatternName, m.Line)
	}
	return out
}
