package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopLoggerNeverPanics(t *testing.T) {
	l := NewNoop()
	l.Debug("x")
	l.Info("x", "k", "v")
	l.Warn("x")
	l.Error("x")
	require.NotNil(t, l.WithField("k", "v"))
	require.NotNil(t, l.WithContext(nil))
}

func TestSlogLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.New(slog.NewTextHandler(&buf, nil)))
	l.WithField("request_id", "abc").Info("dispatching")

	require.Contains(t, buf.String(), "dispatching")
	require.True(t, strings.Contains(buf.String(), "request_id=abc"))
}
