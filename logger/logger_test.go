package logger

import (
	"bytes"
	"strings"
	"testing"

	"stackshield-go/services/config"
)

func TestNewLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLoggerTo(&buf, config.LogConf{Level: "info"})
	if err != nil {
		t.Fatal(err)
	}
	l.With(Fields{"module": "shield", "tss": 3}).Info("connected")
	l.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "module=shield") || !strings.Contains(out, "tss=3") {
		t.Fatalf("fields missing: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatal("debug line printed at info level")
	}
	if l.GetLevel() != "info" {
		t.Fatalf("level = %s", l.GetLevel())
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger(config.LogConf{Level: "loud"}); err == nil {
		t.Fatal("want error")
	}
}

func TestVerbosity(t *testing.T) {
	cases := []struct {
		n     int
		quiet bool
		want  string
	}{
		{0, false, "warning"},
		{1, false, "info"},
		{2, false, "debug"},
		{5, false, "trace"},
		{2, true, "error"},
	}
	for _, c := range cases {
		if got := Verbosity(c.n, c.quiet); got != c.want {
			t.Errorf("Verbosity(%d,%v) = %s, want %s", c.n, c.quiet, got, c.want)
		}
	}
}

func TestOrDiscard(t *testing.T) {
	l := OrDiscard(nil)
	l.Error("goes nowhere")
	if l.GetLevel() != "panic" {
		t.Fatalf("discard level = %s", l.GetLevel())
	}
}
