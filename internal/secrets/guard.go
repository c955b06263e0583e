package secrets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
	"github.com/fyrsmithlabs/storyforge/internal/metrics"
)

// Mode selects what a Guard does with findings
type Mode string

const (
	// ModeOff writes files unscanned
	ModeOff Mode = "off"

	// ModeWarn logs findings and writes the file unchanged
	ModeWarn Mode = "warn"

	// ModeRedact replaces findings with markers before writing
	ModeRedact Mode = "redact"
)

// ParseMode validates a configured mode
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeOff, ModeWarn, ModeRedact:
		return m, nil
	case "":
		return ModeWarn, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// SourceWriter persists generated source and returns its path
type SourceWriter interface {
	WriteSource(ctx context.Context, taskID, fileName string, content []byte) (string, error)
}

// Guard scans generated source on its way to a SourceWriter
type Guard struct {
	next    SourceWriter
	scanner *Scanner
	mode    Mode
	logger  *logging.Logger
}

// NewGuard wraps next. A nil scanner or ModeOff passes writes through.
func NewGuard(next SourceWriter, scanner *Scanner, mode Mode, logger *logging.Logger) *Guard {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Guard{next: next, scanner: scanner, mode: mode, logger: logger.Named("secrets")}
}

// WriteSource scans content, then writes it, redacted in ModeRedact
func (g *Guard) WriteSource(ctx context.Context, taskID, fileName string, content []byte) (string, error) {
	if g.scanner == nil || g.mode == ModeOff {
		return g.next.WriteSource(ctx, taskID, fileName, content)
	}

	findings := g.scanner.Scan(fileName, string(content))
	if len(findings) == 0 {
		return g.next.WriteSource(ctx, taskID, fileName, content)
	}

	action := "warned"
	if g.mode == ModeRedact {
		action = "redacted"
		content = []byte(Redact(string(content), findings))
	}
	for _, f := range findings {
		metrics.RecordSecret(f.RuleID, action)
	}
	g.logger.Warn(ctx, "possible secret in generated file",
		zap.String("file", fileName),
		zap.Int("findings", len(findings)),
		zap.Strings("rules", RuleIDs(findings)),
		zap.String("action", action))

	return g.next.WriteSource(ctx, taskID, fileName, content)
}
