package logging

import (
	"testing"
)

func TestNewProducesAWorkingLogger(t *testing.T) {
	logger, err := New("DEBUG", "test-logger")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Since output goes to stdout/OTel, this just verifies logging at
	// every level and With()-scoping don't panic.
	logger.Debug("debug message", "k", "v")
	logger.Info("info message")
	scoped := logger.With("component", "test")
	scoped.Warn("warn message", "code", 42)
	scoped.Error("error message", "err", "boom")
}

func TestNewFallsBackToInfoOnInvalidLevel(t *testing.T) {
	logger, err := New("NOT-A-LEVEL", "test-logger")
	if err != nil {
		t.Fatalf("New must not fail on an unparseable level, should fall back to INFO: %v", err)
	}
	logger.Info("still works")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": DebugLevel,
		"INFO":  InfoLevel,
		"Warn":  WarnLevel,
		"ERROR": ErrorLevel,
		"fatal": FatalLevel,
	}
	for input, want := range cases {
		got, err := ParseLevel(input)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", input, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}

	if _, err := ParseLevel("bogus"); err == nil {
		t.Error("expected an error for an unrecognized level")
	}
}

func TestGlobalReturnsAUsableLogger(t *testing.T) {
	if Global() == nil {
		t.Fatal("expected a process-wide default logger to be initialized")
	}
	Global().Info("global logger smoke test")
}
