package logger

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

type bufferCloser struct {
	sync.Mutex
	bytes.Buffer
}

func (b *bufferCloser) Write(p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	return b.Buffer.Write(p)
}

func (b *bufferCloser) Close() error { return nil }

func TestBackendFiltersByWriterLevel(t *testing.T) {
	backend := NewBackendWithFlags(0)
	all := &bufferCloser{}
	errorsOnly := &bufferCloser{}
	if err := backend.AddLogWriter(all, LevelTrace); err != nil {
		t.Fatalf("AddLogWriter: %s", err)
	}
	if err := backend.AddLogWriter(errorsOnly, LevelError); err != nil {
		t.Fatalf("AddLogWriter: %s", err)
	}
	if err := backend.Run(); err != nil {
		t.Fatalf("Run: %s", err)
	}
	log := backend.Logger("TEST")
	log.SetLevel(LevelDebug)
	log.Tracef("hidden %d", 1)
	log.Debugf("debug %d", 2)
	log.Errorf("error %d", 3)
	backend.Close()

	if strings.Contains(all.String(), "hidden") {
		t.Fatalf("trace message was written below the logger level")
	}
	if !strings.Contains(all.String(), "[DBG] TEST: debug 2") {
		t.Fatalf("debug message missing: %q", all.String())
	}
	if strings.Contains(errorsOnly.String(), "debug 2") || !strings.Contains(errorsOnly.String(), "error 3") {
		t.Fatalf("unexpected error-writer output: %q", errorsOnly.String())
	}
}

func TestAddWriterAfterRun(t *testing.T) {
	backend := NewBackend()
	if err := backend.Run(); err != nil {
		t.Fatalf("Run: %s", err)
	}
	defer backend.Close()
	if err := backend.AddLogWriter(&bufferCloser{}, LevelInfo); err == nil {
		t.Fatalf("expected an error adding a writer to a running backend")
	}
	if err := backend.Run(); err == nil {
		t.Fatalf("expected an error running the backend twice")
	}
}

func TestParseAndSetLogLevels(t *testing.T) {
	first := RegisterSubSystem("TSTA")
	second := RegisterSubSystem("TSTB")

	tests := []struct {
		debugLevel  string
		expectError bool
		first       Level
		second      Level
	}{
		{"debug", false, LevelDebug, LevelDebug},
		{"TSTA=trace,TSTB=warn", false, LevelTrace, LevelWarn},
		{"bogus", true, LevelTrace, LevelWarn},
		{"TSTA=trace,NOPE=info", true, LevelTrace, LevelWarn},
		{"TSTA", true, LevelTrace, LevelWarn},
	}
	for _, test := range tests {
		err := ParseAndSetLogLevels(test.debugLevel)
		if (err != nil) != test.expectError {
			t.Fatalf("%q: unexpected error state: %v", test.debugLevel, err)
		}
		if first.Level() != test.first || second.Level() != test.second {
			t.Fatalf("%q: got levels %s/%s, want %s/%s", test.debugLevel,
				first.Level(), second.Level(), test.first, test.second)
		}
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in    string
		level Level
		ok    bool
	}{
		{"TRC", LevelTrace, true},
		{"critical", LevelCritical, true},
		{"off", LevelOff, true},
		{"loud", LevelInfo, false},
	}
	for _, test := range tests {
		level, ok := LevelFromString(test.in)
		if level != test.level || ok != test.ok {
			t.Errorf("LevelFromString(%q) = %s, %t", test.in, level, ok)
		}
	}
}
