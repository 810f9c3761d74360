package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func captureLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := base.Load()
	base.Store(zap.New(core))
	t.Cleanup(func() { base.Store(prev) })
	return logs
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestInfoRedactsEmailFields(t *testing.T) {
	logs := captureLogs(t)

	Info("sent", "email", "maria@bistro.test", "note", "cc chef@bistro.test please", "count", 3)

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, "ma***@bistro.test", ctx["email"])
		assert.Equal(t, "cc ch***@bistro.test please", ctx["note"])
		assert.EqualValues(t, 3, ctx["count"])
	}
}

func TestRedactionCanBeDisabled(t *testing.T) {
	logs := captureLogs(t)
	SetRedactPII(false)
	t.Cleanup(func() { SetRedactPII(true) })

	Warn("raw", "email", "maria@bistro.test", "error", errors.New("boom"))

	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "maria@bistro.test", ctx["email"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestOddFieldCountDropsTrailingKey(t *testing.T) {
	logs := captureLogs(t)
	Error("odd", "a", "1", "dangling")
	assert.Len(t, logs.All()[0].Context, 1)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("bogus"))
}
