package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func validOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return eris.Errorf("unknown --output %q (table, json, yaml)", format)
	}
}

// writeStructured encodes v as JSON or YAML. YAML output reuses the JSON
// field names.
func writeStructured(out io.Writer, v any, format string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "encode output")
	}

	switch format {
	case outputYAML:
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return eris.Wrap(err, "encode output")
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	default:
		var indented []byte
		if indented, err = json.MarshalIndent(json.RawMessage(raw), "", "  "); err != nil {
			return eris.Wrap(err, "encode output")
		}
		_, err = out.Write(append(indented, '\n'))
		return eris.Wrap(err, "write output")
	}
}
