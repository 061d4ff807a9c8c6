package registry

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// Row is one line of an operations table.
//
// Table format (semicolon separated, header required):
//
//	name;target;params;affinity;group;alias
//	filter_data;recording;lowpass,highpass;concurrent;Preprocessing;Filter
//	plot_sensors;recording;;inline;Plot;Sensors
//	grand_average;group;output_dir;;Group;Grand Average
//
// The params column is a comma-separated, ordered list. Optional columns may be
// omitted from the header entirely.
type Row struct {
	// Name is the operation name, matching a key in the operation catalog.
	Name string

	// Target is the object type the operation runs on (e.g., "recording").
	// "none" marks an operation that runs once per batch.
	Target string

	// Params are the parameter names the operation reads, in call order.
	Params []string

	// Affinity is the execution venue: "inline", "concurrent" or "isolated".
	// Empty means concurrent.
	Affinity string

	// Group is the display group used when listing operations.
	Group string

	// Alias is the human-readable display name. Empty falls back to Name.
	Alias string
}

// DefaultRow is one line of a parameter defaults table.
//
//	name;default;unit;description
//	lowpass;40;Hz;Lowpass cutoff
type DefaultRow struct {
	// Name is the parameter name.
	Name string

	// Default is the raw default value, decoded as YAML when loaded.
	// Empty means the parameter has no default.
	Default string

	// Unit is informational (e.g., "Hz").
	Unit string

	// Description is informational.
	Description string
}

// Column separator shared by both tables.
const separator = ';'

// requiredColumns are the columns that must be present in an operations table.
var requiredColumns = []string{"name", "target"}

// requiredDefaultColumns are the columns that must be present in a defaults table.
var requiredDefaultColumns = []string{"name", "default"}

// ReadTableFile reads an operations table from disk.
func ReadTableFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open operations table: %w", err)
	}
	defer f.Close()

	return ReadTable(f)
}

// ReadTable parses an operations table.
func ReadTable(r io.Reader) ([]Row, error) {
	var rows []Row
	err := readRecords(r, "operations table", requiredColumns, func(lineNum int, get func(string) string) error {
		row := Row{
			Name:     get("name"),
			Target:   get("target"),
			Params:   splitList(get("params")),
			Affinity: get("affinity"),
			Group:    get("group"),
			Alias:    get("alias"),
		}
		if row.Name == "" {
			return fmt.Errorf("operations table line %d: name is required", lineNum)
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ReadDefaultsFile reads a parameter defaults table from disk.
func ReadDefaultsFile(path string) ([]DefaultRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parameters table: %w", err)
	}
	defer f.Close()

	return ReadDefaults(f)
}

// ReadDefaults parses a parameter defaults table.
func ReadDefaults(r io.Reader) ([]DefaultRow, error) {
	var rows []DefaultRow
	err := readRecords(r, "parameters table", requiredDefaultColumns, func(lineNum int, get func(string) string) error {
		row := DefaultRow{
			Name:        get("name"),
			Default:     get("default"),
			Unit:        get("unit"),
			Description: get("description"),
		}
		if row.Name == "" {
			return fmt.Errorf("parameters table line %d: name is required", lineNum)
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func readRecords(r io.Reader, what string, required []string, fn func(lineNum int, get func(string) string) error) error {
	reader := csv.NewReader(r)
	reader.Comma = separator
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read %s header: %w", what, err)
	}

	colIndex := buildColumnIndex(header)
	for _, col := range required {
		if _, ok := colIndex[col]; !ok {
			return fmt.Errorf("%s missing required column: %s", what, col)
		}
	}

	lineNum := 1
	for {
		lineNum++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read %s line %d: %w", what, lineNum, err)
		}
		if isBlank(record) {
			continue
		}
		get := func(column string) string { return getField(record, colIndex, column) }
		if err := fn(lineNum, get); err != nil {
			return err
		}
	}
	return nil
}

func buildColumnIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimSpace(strings.ToLower(col))] = i
	}
	return index
}

func getField(record []string, colIndex map[string]int, column string) string {
	idx, ok := colIndex[column]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
