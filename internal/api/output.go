package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format for CLI commands.
type OutputFormat string

const (
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatJSON OutputFormat = "json"
)

// output is where Output writes, set by the root command's --output flag.
var output = struct {
	mu     sync.Mutex
	format OutputFormat
	w      io.Writer
}{format: OutputFormatYAML, w: os.Stdout}

// ParseOutputFormat validates a --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputFormatYAML, OutputFormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want yaml or json)", s)
	}
}

// SetOutputFormat sets the format Output uses.
func SetOutputFormat(format string) error {
	f, err := ParseOutputFormat(format)
	if err != nil {
		return err
	}
	output.mu.Lock()
	output.format = f
	output.mu.Unlock()
	return nil
}

// SetOutput redirects Output to w and returns a func restoring the previous
// writer.
func SetOutput(w io.Writer) (restore func()) {
	output.mu.Lock()
	prev := output.w
	output.w = w
	output.mu.Unlock()
	return func() {
		output.mu.Lock()
		output.w = prev
		output.mu.Unlock()
	}
}

// Output writes data in the configured format.
func Output(data any) error {
	output.mu.Lock()
	w, format := output.w, output.format
	output.mu.Unlock()
	return OutputTo(w, format, data)
}

// OutputTo writes data to the given writer in the specified format.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
