package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewObserved returns a Logger recording every entry in memory, and the
// recorded entries.
func NewObserved() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(TraceLevel)
	return &Logger{zap: zap.New(core), config: NewDefaultConfig()}, logs
}

// Logged reports whether logs hold an entry at level whose message
// contains msg.
func Logged(logs *observer.ObservedLogs, level zapcore.Level, msg string) bool {
	for _, e := range logs.FilterMessageSnippet(msg).All() {
		if e.Level == level {
			return true
		}
	}
	return false
}

// FieldOf returns the value of key on the first entry whose message
// contains msg and carries it.
func FieldOf(logs *observer.ObservedLogs, msg, key string) (any, bool) {
	for _, e := range logs.All() {
		if !strings.Contains(e.Message, msg) {
			continue
		}
		if v, ok := e.ContextMap()[key]; ok {
			return v, true
		}
	}
	return nil, false
}
