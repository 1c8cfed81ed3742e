package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// Encoding selects how a command result is written.
type Encoding int

const (
	// EncodingYAML is the terminal default.
	EncodingYAML Encoding = iota
	// EncodingJSON is selected by --json.
	EncodingJSON
)

func (e Encoding) String() string {
	switch e {
	case EncodingYAML:
		return "yaml"
	case EncodingJSON:
		return "json"
	}
	return fmt.Sprintf("Encoding(%d)", int(e))
}

// WriteResult encodes result to w. JSON is indented by two spaces and ends
// with a newline.
func WriteResult(w io.Writer, result any, enc Encoding) error {
	var (
		data []byte
		err  error
	)
	switch enc {
	case EncodingYAML:
		data, err = yaml.Marshal(result)
	case EncodingJSON:
		data, err = json.MarshalIndent(result, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	default:
		return fmt.Errorf("cli: unsupported encoding %s", enc)
	}
	if err != nil {
		return fmt.Errorf("cli: encode %s: %w", enc, err)
	}
	_, err = w.Write(data)
	return err
}

// Status lines. Errors go to stderr, the rest to stdout.

func PrintSuccess(format string, args ...any) { notice(os.Stdout, "✓", format, args) }
func PrintInfo(format string, args ...any) { notice(os.Stdout, "ℹ", format, args) }
func PrintWarning(format string, args ...any) { notice(os.Stdout, "⚠", format, args) }
func PrintError(format string, args ...any) { notice(os.Stderr, "Error:", format, args) }

func notice(w io.Writer, mark, format string, args []any) {
	fmt.Fprintf(w, mark+" "+format+"\n", args...)
}
