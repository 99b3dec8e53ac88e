package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"":        LevelInfo,
		"INFO":    LevelInfo,
		"warn":    LevelWarning,
		"warning": LevelWarning,
		" error ": LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLevelFiltering(t *testing.T) {
	defer SetLevel(CurrentLevel())

	var buf bytes.Buffer
	l := NewWithWriter("test", &buf)

	SetLevel(LevelWarning)
	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warningf("warn %d", 3)
	l.Errorf("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("lines below warning were written: %q", out)
	}
	if !strings.Contains(out, "WARN [test] warn 3") {
		t.Errorf("missing warning line: %q", out)
	}
	if !strings.Contains(out, "ERROR [test] error 4") {
		t.Errorf("missing error line: %q", out)
	}

	buf.Reset()
	SetLevel(LevelDebug)
	l.Debugf("now visible")
	if !strings.Contains(buf.String(), "DEBUG [test] now visible") {
		t.Errorf("debug line not written after SetLevel: %q", buf.String())
	}
}
