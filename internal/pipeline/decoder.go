package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
)

// RowDecoder turns a raw object into an ordered column list and a sequence
// of field maps. When columnMapping is non-empty, source columns are renamed
// through it and unmapped columns are dropped.
type RowDecoder interface {
	Decode(r io.Reader, columnMapping map[string]string) (columns []string, rows []map[string]string, err error)
}

// CSVDecoder decodes comma-separated files with a header row. Rows whose
// fields are all empty are dropped.
type CSVDecoder struct{}

func (CSVDecoder) Decode(r io.Reader, columnMapping map[string]string) ([]string, []map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading csv header: %w", err)
	}

	columns := make([]string, 0, len(header))
	keep := make([]bool, len(header))
	names := make([]string, len(header))
	for i, col := range header {
		name := col
		if len(columnMapping) > 0 {
			mapped, ok := columnMapping[col]
			if !ok {
				continue
			}
			name = mapped
		}
		keep[i] = true
		names[i] = name
		columns = append(columns, name)
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading csv row: %w", err)
		}
		row := make(map[string]string, len(columns))
		empty := true
		for i, value := range record {
			if i >= len(header) || !keep[i] {
				continue
			}
			row[names[i]] = value
			if value != "" {
				empty = false
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return columns, rows, nil
}
