// Package output renders snapshots, diffs and health results as JSON or
// terminal tables.
package output

import (
	"encoding/json"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// WriteJSON serializes v as indented JSON.
// If path is "-" or empty, writes to stdout.
func WriteJSON(v any, path string) error {
	var w io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrap(err, "create output file")
		}
		defer f.Close()
		w = f
	}
	return EncodeJSON(w, v)
}

// EncodeJSON writes v to w as indented JSON without HTML escaping.
func EncodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "encode JSON")
	}
	return nil
}
