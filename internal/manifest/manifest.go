// Package manifest synthesizes the dependency manifest for a task from the
// references found in its generated sources.
package manifest

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FileName is the manifest written at the task root
const FileName = "composer.json"

// DefaultReferencePattern matches `use A\B\C;` statements
const DefaultReferencePattern = `use\s+([a-zA-Z0-9_\\]+);`

// skeleton is the fixed manifest structure. Only "require" may be extended.
const skeleton = `{
  "name": "storyforge/generated",
  "description": "A project generated by storyforge",
  "type": "library",
  "require": {
    "php": "^8.2",
    "ext-json": "*"
  },
  "autoload": {
    "psr-4": {
      "App\\": "src/"
    }
  },
  "require-dev": {
    "phpunit/phpunit": "^10.0",
    "phpstan/phpstan": "^1.10",
    "squizlabs/php_codesniffer": "^3.7",
    "vimeo/psalm": "^5.0"
  }
}`

var (
	fixedKeys    = []string{"name", "description", "type", "autoload", "require-dev"}
	fixedRequire = []string{"php", "ext-json"}
)

// Skeleton returns the fixed manifest structure
func Skeleton() []byte {
	return []byte(skeleton)
}

// CompileReferencePattern compiles pattern, or the default when empty. The
// first capture group must hold the referenced name.
func CompileReferencePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = DefaultReferencePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile reference pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("reference pattern %q has no capture group", pattern)
	}
	return re, nil
}

// References returns the distinct referenced names in sources, in order of
// first occurrence.
func References(re *regexp.Regexp, sources ...string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, src := range sources {
		for _, m := range re.FindAllStringSubmatch(src, -1) {
			name := strings.TrimSpace(m[1])
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// Prompt asks the coder to extend only the require section
func Prompt(refs []string) string {
	return fmt.Sprintf(`You are a PHP developer. Your task is to create a valid `+"`composer.json`"+` for
a PHP project. Use the following `+"`use`"+` statements to identify the packages
they depend on and add them under "require":
%s

`+"```json\n%s\n```"+`

Important:
- Return only the finished composer.json. No explanations, no comments.
- Do not change the structure; only extend the "require" section.
- Use the latest stable versions of the packages.
- Make sure the composer.json is valid and all dependencies are listed correctly.
`, strings.Join(refs, ", "), skeleton)
}

// Check is the outcome of validating a collaborator manifest
type Check struct {
	// Content is the skeleton with the collaborator's require additions
	Content []byte

	// Added are the require entries taken from the collaborator, sorted by name
	Added []string

	// Deviations describe where the collaborator broke the skeleton
	Deviations []string
}

// Valid reports whether the collaborator kept the skeleton intact
func (c Check) Valid() bool { return len(c.Deviations) == 0 }

// Apply compares raw against the skeleton and builds the manifest to
// write: the skeleton plus new string entries from raw's "require". Keys
// present in the skeleton always keep the skeleton value.
func Apply(raw []byte) (Check, error) {
	var check Check
	if !gjson.ValidBytes(raw) {
		check.Content = prettyBytes(Skeleton())
		check.Deviations = []string{"manifest is not valid JSON"}
		return check, nil
	}
	got := gjson.ParseBytes(raw)
	if !got.IsObject() {
		check.Content = prettyBytes(Skeleton())
		check.Deviations = []string{"manifest is not a JSON object"}
		return check, nil
	}

	skel := gjson.Parse(skeleton)
	for _, key := range fixedKeys {
		if !reflect.DeepEqual(got.Get(key).Value(), skel.Get(key).Value()) {
			check.Deviations = append(check.Deviations, fmt.Sprintf("%q differs from skeleton", key))
		}
	}
	for _, key := range fixedRequire {
		path := "require." + escapePath(key)
		if got.Get(path).String() != skel.Get(path).String() {
			check.Deviations = append(check.Deviations, fmt.Sprintf("require %q differs from skeleton", key))
		}
	}
	got.ForEach(func(k, _ gjson.Result) bool {
		if !skel.Get(escapePath(k.String())).Exists() {
			check.Deviations = append(check.Deviations, fmt.Sprintf("unexpected key %q", k.String()))
		}
		return true
	})

	out := Skeleton()
	var err error
	got.Get("require").ForEach(func(k, v gjson.Result) bool {
		name := k.String()
		if skel.Get("require." + escapePath(name)).Exists() {
			return true
		}
		if v.Type != gjson.String {
			check.Deviations = append(check.Deviations, fmt.Sprintf("require %q has a non-string constraint", name))
			return true
		}
		out, err = sjson.SetBytes(out, "require."+escapePath(name), v.String())
		if err != nil {
			return false
		}
		check.Added = append(check.Added, name)
		return true
	})
	if err != nil {
		return Check{}, fmt.Errorf("merge require section: %w", err)
	}

	sort.Strings(check.Added)
	check.Content = prettyBytes(out)
	return check, nil
}

func prettyBytes(b []byte) []byte {
	return []byte(gjson.GetBytes(b, "@pretty").Raw)
}

// escapePath escapes gjson/sjson path metacharacters in a single key
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
