package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type format string

const (
	formatYAML format = "yaml"
	formatJSON format = "json"
)

func parseFormat(s string) (format, error) {
	switch format(s) {
	case formatYAML, formatJSON:
		return format(s), nil
	}
	return "", fmt.Errorf("unknown output format %q (want yaml or json)", s)
}

// render writes v in the requested format. YAML goes through JSON first so
// both formats share the API's field names.
func render(w io.Writer, f format, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if f == formatJSON {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		buf.WriteByte('\n')
		_, err := buf.WriteTo(w)
		return err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
