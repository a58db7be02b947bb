package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestOutputFormatFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		json    bool
		yaml    bool
		want    OutputFormat
		wantErr bool
	}{
		{name: "default text", want: FormatText},
		{name: "json", json: true, want: FormatJSON},
		{name: "yaml", yaml: true, want: FormatYAML},
		{name: "both", json: true, yaml: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OutputFormatFromFlags(tt.json, tt.yaml)
			if (err != nil) != tt.wantErr {
				t.Fatalf("OutputFormatFromFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("OutputFormatFromFlags() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteJSONAndYAML(t *testing.T) {
	data := map[string]interface{}{"name": "Review budget", "completed": true}

	var jsonBuf bytes.Buffer
	if err := WriteJSON(&jsonBuf, data); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(jsonBuf.Bytes(), &decoded); err != nil {
		t.Fatalf("WriteJSON() produced invalid JSON: %v", err)
	}
	if decoded["name"] != "Review budget" {
		t.Errorf("name = %v, want Review budget", decoded["name"])
	}
	if !strings.Contains(jsonBuf.String(), "\n  ") {
		t.Errorf("WriteJSON() should indent output, got %q", jsonBuf.String())
	}

	var yamlBuf bytes.Buffer
	if err := WriteYAML(&yamlBuf, data); err != nil {
		t.Fatalf("WriteYAML() error = %v", err)
	}
	decoded = nil
	if err := yaml.Unmarshal(yamlBuf.Bytes(), &decoded); err != nil {
		t.Fatalf("WriteYAML() produced invalid YAML: %v", err)
	}
	if decoded["completed"] != true {
		t.Errorf("completed = %v, want true", decoded["completed"])
	}
}

func TestMarshalJSON_Error(t *testing.T) {
	if _, err := MarshalJSON(make(chan int)); err == nil {
		t.Error("MarshalJSON(chan) should fail")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	t.Setenv("EXCHANGESYNC_TEST_DIR", "/var/data")

	tests := []struct {
		input string
		want  string
	}{
		{input: "", want: ""},
		{input: "~", want: home},
		{input: "~/mirror.db", want: filepath.Join(home, "mirror.db")},
		{input: "$EXCHANGESYNC_TEST_DIR/mirror.db", want: "/var/data/mirror.db"},
		{input: "/abs/path", want: "/abs/path"},
		{input: "data/~file", want: "data/~file"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ExpandPath(tt.input)
			if err != nil {
				t.Fatalf("ExpandPath(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
	got, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir() error = %v", err)
	}
	if got != filepath.Join("/tmp/xdg-data", AppName) {
		t.Errorf("DataDir() = %q, want %q", got, filepath.Join("/tmp/xdg-data", AppName))
	}
}

func TestParseDateFlag(t *testing.T) {
	tests := []struct {
		name     string
		dateFlag string
		wantDate *time.Time
		wantErr  bool
	}{
		{name: "empty string returns nil", dateFlag: ""},
		{name: "valid ISO date", dateFlag: "2026-01-15", wantDate: ptrTime(time.Date(2026, 1, 15, 0, 0, 0, 0, time.Local))},
		{name: "invalid format", dateFlag: "2026/01/15", wantErr: true},
		{name: "invalid month", dateFlag: "2026-13-15", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseDateFlag(tt.dateFlag)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDateFlag(%q) error = %v, wantErr %v", tt.dateFlag, err, tt.wantErr)
			}
			if tt.wantErr {
				if !strings.Contains(err.Error(), "YYYY-MM-DD") {
					t.Errorf("ParseDateFlag(%q) error should suggest the format, got %v", tt.dateFlag, err)
				}
				return
			}
			if (result == nil) != (tt.wantDate == nil) {
				t.Fatalf("ParseDateFlag(%q) = %v, want %v", tt.dateFlag, result, tt.wantDate)
			}
			if result != nil && !result.Equal(*tt.wantDate) {
				t.Errorf("ParseDateFlag(%q) = %v, want %v", tt.dateFlag, result, tt.wantDate)
			}
		})
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func TestValidateItemID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{id: "AAMkADk0NTc=", wantErr: false},
		{id: "", wantErr: true},
		{id: "   ", wantErr: true},
		{id: "AAMk ADk", wantErr: true},
		{id: "<t:ItemId/>", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if err := ValidateItemID(tt.id); (err != nil) != tt.wantErr {
				t.Errorf("ValidateItemID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestPromptYesNo(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "y\n", want: true},
		{input: "YES\n", want: true},
		{input: "  n  \n", want: false},
		{input: "maybe\nyes\n", want: true},
		{input: "", want: false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			got := promptYesNo(strings.NewReader(tt.input), &out, "Delete credentials?")
			if got != tt.want {
				t.Errorf("promptYesNo(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if !strings.Contains(out.String(), "Delete credentials? (y/n): ") {
				t.Errorf("prompt output = %q", out.String())
			}
		})
	}
}
