package main

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// parseSchema parses "name:type,name:type".
func parseSchema(def string) (*arrow.Schema, error) {
	if strings.TrimSpace(def) == "" {
		return nil, fmt.Errorf("empty schema")
	}
	var fields []arrow.Field
	for _, part := range strings.Split(def, ",") {
		name, typ, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("schema column %q: want name:type", part)
		}
		dt, err := parseType(typ)
		if err != nil {
			return nil, fmt.Errorf("schema column %q: %w", name, err)
		}
		fields = append(fields, arrow.Field{Name: name, Type: dt, Nullable: true})
	}
	return arrow.NewSchema(fields, nil), nil
}

func parseType(t string) (arrow.DataType, error) {
	switch strings.ToLower(t) {
	case "int32":
		return arrow.PrimitiveTypes.Int32, nil
	case "int64":
		return arrow.PrimitiveTypes.Int64, nil
	case "uint64":
		return arrow.PrimitiveTypes.Uint64, nil
	case "float64", "double":
		return arrow.PrimitiveTypes.Float64, nil
	case "string":
		return arrow.BinaryTypes.String, nil
	case "bool", "boolean":
		return arrow.FixedWidthTypes.Boolean, nil
	case "timestamp", "timestamp_ms":
		return arrow.FixedWidthTypes.Timestamp_ms, nil
	default:
		return nil, fmt.Errorf("unsupported type %q", t)
	}
}
