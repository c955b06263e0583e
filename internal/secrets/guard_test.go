package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
)

type captureWriter struct {
	written map[string]string
	err     error
}

func (c *captureWriter) WriteSource(_ context.Context, taskID, fileName string, content []byte) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	if c.written == nil {
		c.written = make(map[string]string)
	}
	c.written[fileName] = string(content)
	return "/out/" + taskID + "/src/" + fileName, nil
}

func newTestScanner(t *testing.T) *Scanner {
	t.Helper()
	s, err := NewScanner(nil)
	require.NoError(t, err)
	return s
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"off", ModeOff, false},
		{"warn", ModeWarn, false},
		{"redact", ModeRedact, false},
		{"", ModeWarn, false},
		{"block", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGuard_Redact(t *testing.T) {
	next := &captureWriter{}
	logger := logging.NewTestLogger()
	g := NewGuard(next, newTestScanner(t), ModeRedact, logger.Logger)

	path, err := g.WriteSource(context.Background(), "abc", "Notifier.php", []byte(leakyCode))
	require.NoError(t, err)
	assert.Equal(t, "/out/abc/src/Notifier.php", path)

	written := next.written["Notifier.php"]
	assert.NotContains(t, written, slackToken)
	assert.Contains(t, written, "[REDACTED:")
	assert.Contains(t, written, "final class Notifier")
	logger.AssertLogged(t, zapcore.WarnLevel, "possible secret in generated file")
	logger.AssertField(t, "possible secret", "action", "redacted")
}

func TestGuard_WarnKeepsContent(t *testing.T) {
	next := &captureWriter{}
	logger := logging.NewTestLogger()
	g := NewGuard(next, newTestScanner(t), ModeWarn, logger.Logger)

	_, err := g.WriteSource(context.Background(), "abc", "Notifier.php", []byte(leakyCode))
	require.NoError(t, err)

	assert.Equal(t, leakyCode, next.written["Notifier.php"])
	logger.AssertField(t, "possible secret", "action", "warned")
}

func TestGuard_CleanFileIsQuiet(t *testing.T) {
	next := &captureWriter{}
	logger := logging.NewTestLogger()
	g := NewGuard(next, newTestScanner(t), ModeRedact, logger.Logger)

	_, err := g.WriteSource(context.Background(), "abc", "Patient.php", []byte(cleanCode))
	require.NoError(t, err)

	assert.Equal(t, cleanCode, next.written["Patient.php"])
	assert.Zero(t, logger.FilterMessage("possible secret").Len())
}

func TestGuard_OffPassesThrough(t *testing.T) {
	next := &captureWriter{}
	logger := logging.NewTestLogger()
	g := NewGuard(next, nil, ModeOff, logger.Logger)

	_, err := g.WriteSource(context.Background(), "abc", "Notifier.php", []byte(leakyCode))
	require.NoError(t, err)
	assert.Equal(t, leakyCode, next.written["Notifier.php"])
	assert.Empty(t, logger.All())
}

func TestGuard_PropagatesWriteError(t *testing.T) {
	g := NewGuard(&captureWriter{err: errors.New("disk full")}, newTestScanner(t), ModeWarn, nil)

	_, err := g.WriteSource(context.Background(), "abc", "Patient.php", []byte(cleanCode))
	assert.EqualError(t, err, "disk full")
}
