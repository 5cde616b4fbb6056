package main

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestBuildLoggerLevel(t *testing.T) {
	logger, err := buildLogger("debug")
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Sync()
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug level not applied")
	}

	logger, err = buildLogger("warn")
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Sync()
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("warn logger must not enable info")
	}

	if _, err := buildLogger("shouty"); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}
