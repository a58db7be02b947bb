package utils

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestLoggerVerboseMode(t *testing.T) {
	var buf bytes.Buffer
	logger := GetLogger()
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stderr)
	defer SetVerboseMode(false)

	SetVerboseMode(false)
	Debugf("hidden %d", 1)
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("debug message logged in normal mode: %q", buf.String())
	}

	SetVerboseMode(true)
	if !logger.IsVerbose() {
		t.Fatal("IsVerbose() = false, want true")
	}
	Debugf("visible %d", 2)
	if !strings.Contains(buf.String(), "visible 2") {
		t.Errorf("debug message missing in verbose mode: %q", buf.String())
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := GetLogger()
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stderr)

	Infof("info %s", "message")
	Warnf("warn %s", "message")
	Errorf("error %s", "message")

	out := buf.String()
	for _, want := range []string{"level=info", "info message", "level=warning", "level=error"} {
		if !strings.Contains(out, want) {
			t.Errorf("output = %q, want to contain %q", out, want)
		}
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := GetLogger()
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stderr)

	WithField("item", "AAMk").Info("bound")
	WithError(errors.New("boom")).Warn("failed")

	out := buf.String()
	if !strings.Contains(out, "item=AAMk") {
		t.Errorf("output = %q, want field item=AAMk", out)
	}
	if !strings.Contains(out, "error=boom") {
		t.Errorf("output = %q, want field error=boom", out)
	}
}

func TestLogOperation(t *testing.T) {
	wantErr := errors.New("failed")

	tests := []struct {
		name    string
		fn      func() error
		wantErr error
	}{
		{name: "success", fn: func() error { return nil }},
		{name: "failure", fn: func() error { return wantErr }, wantErr: wantErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := LogOperationf("op %s", tt.fn, tt.name)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("LogOperationf() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
