package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARN ", LevelWarn},
		{"error", LevelError},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		assert.Check(t, is.Equal(ParseLevel(tt.in), tt.want), "input %q", tt.in)
	}
}

func TestLevelFilteringAndFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	t.Cleanup(func() {
		SetLevel(LevelInfo)
		SetOutput(os.Stderr)
	})

	Info("hidden", "k", "v")
	Warn("shown", "event_id", "a/b", "title", "team sync")
	Error("failed", errors.New("boom"), "count", 2)

	out := buf.String()
	assert.Check(t, !strings.Contains(out, "hidden"))
	assert.Check(t, is.Contains(out, `[WARN] shown event_id=a/b title="team sync"`))
	assert.Check(t, is.Contains(out, "[ERROR] failed err=boom count=2"))
}
