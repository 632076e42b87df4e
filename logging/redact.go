package logging

import (
	"strings"

	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// Redacted replaces the value of any secret-bearing key in log output.
const Redacted = "[REDACTED]"

// secretKeys is the fixed set of field names whose values must never reach
// log output. Matching is case-insensitive.
var secretKeys = map[string]bool{
	"private_key":        true,
	"signer_private_key": true,
	"database_url":       true,
	"redis_url":          true,
	"dsn":                true,
}

type redactingLogger struct {
	inner cmtlog.Logger
}

// NewRedactingLogger wraps a logger so that values of secret field names are
// replaced before the record is emitted.
func NewRedactingLogger(inner cmtlog.Logger) cmtlog.Logger {
	return &redactingLogger{inner: inner}
}

func (l *redactingLogger) Debug(msg string, keyvals ...interface{}) {
	l.inner.Debug(msg, redactKeyvals(keyvals)...)
}

func (l *redactingLogger) Info(msg string, keyvals ...interface{}) {
	l.inner.Info(msg, redactKeyvals(keyvals)...)
}

func (l *redactingLogger) Error(msg string, keyvals ...interface{}) {
	l.inner.Error(msg, redactKeyvals(keyvals)...)
}

func (l *redactingLogger) With(keyvals ...interface{}) cmtlog.Logger {
	return &redactingLogger{inner: l.inner.With(redactKeyvals(keyvals)...)}
}

func redactKeyvals(keyvals []interface{}) []interface{} {
	if len(keyvals) == 0 {
		return keyvals
	}
	out := make([]interface{}, len(keyvals))
	copy(out, keyvals)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok {
			continue
		}
		if secretKeys[strings.ToLower(key)] {
			out[i+1] = Redacted
		}
	}
	return out
}
