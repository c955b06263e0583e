package secrets

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist excludes files and matches from scanning.
//
//	[allowlist]
//	paths   = ['''^fixtures/''']
//	regexes = ['''DEMO_API_KEY''']
type Allowlist struct {
	Paths   []string // file name regex patterns that are not scanned
	Regexes []string // match regex patterns that are not reported

	paths []*regexp.Regexp
}

// LoadAllowlist reads the allowlist at path. An empty path or a missing
// file yields an empty allowlist; invalid TOML or patterns are errors.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Allowlist{}, nil
	}

	var file struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	a := &Allowlist{Paths: file.Allowlist.Paths, Regexes: file.Allowlist.Regexes}
	if err := a.compile(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// compile validates every pattern once, failing on the first bad one
func (a *Allowlist) compile() error {
	a.paths = a.paths[:0]
	for _, pattern := range a.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: path pattern '%s': %v", ErrInvalidRegex, pattern, err)
		}
		a.paths = append(a.paths, re)
	}
	for _, pattern := range a.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%w: content pattern '%s': %v", ErrInvalidRegex, pattern, err)
		}
	}
	return nil
}

// SkipsFile reports whether name matches a path pattern
func (a *Allowlist) SkipsFile(name string) bool {
	if a == nil {
		return false
	}
	for _, re := range a.paths {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
