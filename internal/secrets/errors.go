// Package secrets finds credentials in generated source with the gitleaks
// rule set and can redact them before the file is persisted.
package secrets

import "errors"

var (
	// ErrInvalidRegex indicates a regex pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates a TOML file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")

	// ErrUnknownMode indicates a mode other than off, warn or redact.
	ErrUnknownMode = errors.New("unknown secrets mode")
)
