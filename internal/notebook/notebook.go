// Package notebook handles the notebook documents nbq moves around: stripping
// outputs from snapshots, checking that a document looks like nbformat v4,
// and turning percent-format scripts into notebooks.
package notebook

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
)

//go:embed nbformat.v4.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		schema, schemaErr = compiler.Compile(schemaJSON)
	})
	return schema, schemaErr
}

// Validate checks data against a minimal nbformat v4 schema.
func Validate(data []byte) error {
	op := nbqerrors.Op("notebook.Validate")
	if !gjson.ValidBytes(data) {
		return nbqerrors.E(op, nbqerrors.KindInvalid, "not valid JSON")
	}
	s, err := compiledSchema()
	if err != nil {
		return nbqerrors.E(op, nbqerrors.KindUnknown, "compile notebook schema", err)
	}
	result := s.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return nbqerrors.E(op, nbqerrors.KindInvalid, fmt.Sprintf("not an nbformat v4 notebook: %v", result.Errors))
}

// StripOutputs empties outputs and resets execution counts of every code
// cell. Everything else in the document is left byte for byte.
func StripOutputs(data []byte) ([]byte, error) {
	op := nbqerrors.Op("notebook.StripOutputs")
	if !gjson.ValidBytes(data) {
		return nil, nbqerrors.E(op, nbqerrors.KindInvalid, "not valid JSON")
	}
	cells := gjson.GetBytes(data, "cells")
	if !cells.IsArray() {
		return nil, nbqerrors.E(op, nbqerrors.KindInvalid, "document has no cells array")
	}

	out := data
	var setErr error
	cells.ForEach(func(key, cell gjson.Result) bool {
		if cell.Get("cell_type").String() != "code" {
			return true
		}
		prefix := fmt.Sprintf("cells.%d.", key.Int())
		if out, setErr = sjson.SetRawBytes(out, prefix+"outputs", []byte("[]")); setErr != nil {
			return false
		}
		out, setErr = sjson.SetRawBytes(out, prefix+"execution_count", []byte("null"))
		return setErr == nil
	})
	if setErr != nil {
		return nil, nbqerrors.E(op, nbqerrors.KindInvalid, setErr)
	}
	return out, nil
}

// CodeCellCount returns the number of code cells in a notebook.
func CodeCellCount(data []byte) int {
	n := 0
	gjson.GetBytes(data, "cells").ForEach(func(_, cell gjson.Result) bool {
		if cell.Get("cell_type").String() == "code" {
			n++
		}
		return true
	})
	return n
}

// KernelName returns metadata.kernelspec.name, or "" when absent.
func KernelName(data []byte) string {
	return strings.TrimSpace(gjson.GetBytes(data, "metadata.kernelspec.name").String())
}
