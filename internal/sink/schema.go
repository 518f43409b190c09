package sink

import (
	"errors"
	"fmt"
	"sort"

	"github.com/parquet-go/parquet-go"
)

// ErrSchemaMismatch is returned when a row's field set diverges from the
// schema inferred from the file's first row. Rejecting is the only response
// that cannot corrupt the file.
var ErrSchemaMismatch = errors.New("row does not match inferred file schema")

// inferSchema builds a parquet schema from the first row written to a file.
// Field order is the sorted field names, so the same row shape always infers
// the same schema.
func inferSchema(name string, row map[string]any) (*parquet.Schema, []string, error) {
	if len(row) == 0 {
		return nil, nil, errors.New("cannot infer schema from empty row")
	}

	fields := make([]string, 0, len(row))
	for k := range row {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	group := parquet.Group{}
	for _, k := range fields {
		node, err := leafNode(row[k])
		if err != nil {
			return nil, nil, fmt.Errorf("field %q: %w", k, err)
		}
		group[k] = node
	}

	return parquet.NewSchema(name, group), fields, nil
}

func leafNode(v any) (parquet.Node, error) {
	switch v.(type) {
	case string:
		return parquet.String(), nil
	case int64, int:
		return parquet.Int(64), nil
	case float64:
		return parquet.Leaf(parquet.DoubleType), nil
	case bool:
		return parquet.Leaf(parquet.BooleanType), nil
	default:
		return nil, fmt.Errorf("unsupported row value type %T", v)
	}
}

// matchesFields reports whether a row carries exactly the inferred field
// set.
func matchesFields(fields []string, row map[string]any) bool {
	if len(row) != len(fields) {
		return false
	}
	for _, k := range fields {
		if _, ok := row[k]; !ok {
			return false
		}
	}
	return true
}
