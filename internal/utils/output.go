package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// OutputFormat selects how command results are printed
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// OutputFormatFromFlags maps the --json/--yaml flags to an OutputFormat
func OutputFormatFromFlags(jsonOut, yamlOut bool) (OutputFormat, error) {
	switch {
	case jsonOut && yamlOut:
		return "", fmt.Errorf("--json and --yaml are mutually exclusive")
	case jsonOut:
		return FormatJSON, nil
	case yamlOut:
		return FormatYAML, nil
	}
	return FormatText, nil
}

// OutputJSON marshals the provided data as indented JSON and prints it to stdout.
func OutputJSON(data interface{}) error {
	return WriteJSON(os.Stdout, data)
}

// OutputYAML marshals the provided data as YAML and prints it to stdout.
func OutputYAML(data interface{}) error {
	return WriteYAML(os.Stdout, data)
}

// WriteJSON writes indented JSON followed by a newline
func WriteJSON(w io.Writer, data interface{}) error {
	jsonData, err := MarshalJSON(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

// WriteYAML writes the YAML document for data
func WriteYAML(w io.Writer, data interface{}) error {
	yamlData, err := MarshalYAML(data)
	if err != nil {
		return err
	}
	_, err = w.Write(yamlData)
	return err
}

// MarshalJSON marshals the provided data as indented JSON.
func MarshalJSON(data interface{}) ([]byte, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return jsonData, nil
}

// MarshalYAML marshals the provided data as YAML.
func MarshalYAML(data interface{}) ([]byte, error) {
	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return yamlData, nil
}
