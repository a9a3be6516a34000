package loader

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/stackvity/bqbatch/pkg/batch"
	"gopkg.in/yaml.v3"
)

// Input formats recognised for --file and --stdin.
const (
	formatText = "text"
	formatCSV  = "csv"
	formatJSON = "json"
	formatYAML = "yaml"
	formatTOML = "toml"
)

// Column and field names shared by the CSV, JSON, YAML and TOML formats.
const (
	fieldTableID = "table_id"
	fieldTableA  = "table_a"
	fieldTableB  = "table_b"
	fieldPath    = "path"
	fieldName    = "name"
)

// entry is the structured form of one target in JSON, YAML and TOML input.
type entry struct {
	TableID string `json:"table_id" yaml:"table_id" toml:"table_id"`
	TableA  string `json:"table_a" yaml:"table_a" toml:"table_a"`
	TableB  string `json:"table_b" yaml:"table_b" toml:"table_b"`
	Path    string `json:"path" yaml:"path" toml:"path"`
	Name    string `json:"name" yaml:"name" toml:"name"`
}

func fromArgs(kind batch.ItemKind, args []string) ([]record, error) {
	if kind != batch.KindPair {
		records := make([]record, 0, len(args))
		for i, a := range args {
			records = append(records, single(kind, a, "", fmt.Sprintf("argument %d", i+1)))
		}
		return records, nil
	}
	return pairArgs(args)
}

func fromFile(kind batch.ItemKind, path string) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: input file %q does not exist", batch.ErrLoad, path)
		}
		return nil, fmt.Errorf("%w: opening input file %q: %w", batch.ErrLoad, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err == nil && info.IsDir() {
		return nil, fmt.Errorf("%w: input file %q is a directory", batch.ErrLoad, path)
	}
	return fromReader(kind, f, formatForPath(path), path)
}

func formatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return formatCSV
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	case ".toml":
		return formatTOML
	}
	return ""
}

// fromReader parses r as format, sniffing the format when it is empty.
func fromReader(kind batch.ItemKind, r io.Reader, format, name string) ([]record, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", batch.ErrLoad, name, err)
	}
	data, err := decodeUTF8(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", batch.ErrLoad, name, err)
	}
	if format == "" {
		format = sniff(data)
	}

	switch format {
	case formatCSV:
		return parseCSV(kind, data, name)
	case formatJSON:
		return parseJSON(kind, data, name)
	case formatYAML:
		return parseYAML(kind, data, name)
	case formatTOML:
		return parseTOML(kind, data, name)
	default:
		return parseText(kind, data, name)
	}
}

// sniff guesses the format of unnamed input: a leading '[' is JSON, a first
// line naming a known column is a CSV header, anything else is plain text.
func sniff(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		return formatJSON
	}
	first, _, _ := bytes.Cut(trimmed, []byte("\n"))
	for _, col := range strings.Split(string(first), ",") {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case fieldTableID, fieldTableA, fieldTableB, fieldPath:
			return formatCSV
		}
	}
	return formatText
}

func parseText(kind batch.ItemKind, data []byte, name string) ([]record, error) {
	var records []record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		where := fmt.Sprintf("%s line %d", name, lineNo)
		if kind != batch.KindPair {
			records = append(records, single(kind, line, "", where))
			continue
		}
		left, right, ok := ParsePair(line)
		if !ok {
			return nil, fmt.Errorf("%w: %s: %q is not a table pair (use left|right or left:right)", batch.ErrLoad, where, line)
		}
		records = append(records, record{Left: left, Right: right, where: where})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", batch.ErrLoad, name, err)
	}
	return records, nil
}

// requiredColumns lists the columns a CSV header must carry for kind.
func requiredColumns(kind batch.ItemKind) []string {
	switch kind {
	case batch.KindPair:
		return []string{fieldTableA, fieldTableB}
	case batch.KindQuery:
		return []string{fieldPath}
	default:
		return []string{fieldTableID}
	}
}

func parseCSV(kind batch.ItemKind, data []byte, name string) ([]record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	r.Comment = '#'
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid CSV: %w", batch.ErrLoad, name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", batch.ErrLoad, name)
	}

	index := make(map[string]int, len(rows[0]))
	for i, col := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredColumns(kind) {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: %s: CSV header is missing the required %q column", batch.ErrLoad, name, col)
		}
	}

	cell := func(row []string, col string) string {
		if i, ok := index[col]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	records := make([]record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		records = append(records, record{
			ID:    cell(row, fieldTableID),
			Left:  cell(row, fieldTableA),
			Right: cell(row, fieldTableB),
			Path:  cell(row, fieldPath),
			Name:  cell(row, fieldName),
			where: fmt.Sprintf("%s row %d", name, i+2),
		})
	}
	return records, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseJSON(kind batch.ItemKind, data []byte, name string) ([]record, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("%w: %s is not a valid JSON array: %w", batch.ErrLoad, name, err)
	}
	records := make([]record, 0, len(elems))
	for i, el := range elems {
		where := fmt.Sprintf("%s element %d", name, i)
		var s string
		if err := json.Unmarshal(el, &s); err == nil {
			r, err := fromString(kind, s, where)
			if err != nil {
				return nil, err
			}
			records = append(records, r)
			continue
		}
		var e entry
		if err := json.Unmarshal(el, &e); err != nil {
			return nil, fmt.Errorf("%w: %s: expected an object or a string: %w", batch.ErrLoad, where, err)
		}
		records = append(records, e.record(where))
	}
	return records, nil
}

// yamlDoc accepts either a bare list or a document with a targets key.
type yamlDoc struct {
	Targets []yaml.Node `yaml:"targets"`
}

func parseYAML(kind batch.ItemKind, data []byte, name string) ([]record, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %s is not valid YAML: %w", batch.ErrLoad, name, err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	var nodes []yaml.Node
	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&nodes); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", batch.ErrLoad, name, err)
		}
	case yaml.MappingNode:
		var wrapped yamlDoc
		if err := doc.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", batch.ErrLoad, name, err)
		}
		nodes = wrapped.Targets
	default:
		return nil, fmt.Errorf("%w: %s: expected a list of targets", batch.ErrLoad, name)
	}

	records := make([]record, 0, len(nodes))
	for i := range nodes {
		where := fmt.Sprintf("%s entry %d", name, i)
		n := &nodes[i]
		if n.Kind == yaml.ScalarNode {
			r, err := fromString(kind, n.Value, where)
			if err != nil {
				return nil, err
			}
			records = append(records, r)
			continue
		}
		var e entry
		if err := n.Decode(&e); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", batch.ErrLoad, where, err)
		}
		records = append(records, e.record(where))
	}
	return records, nil
}

// tomlDoc is the [[targets]] layout of a TOML target file.
type tomlDoc struct {
	Targets []entry `toml:"targets"`
}

func parseTOML(_ batch.ItemKind, data []byte, name string) ([]record, error) {
	var doc tomlDoc
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("%w: %s is not valid TOML: %w", batch.ErrLoad, name, err)
	}
	records := make([]record, 0, len(doc.Targets))
	for i, e := range doc.Targets {
		records = append(records, e.record(fmt.Sprintf("%s targets[%d]", name, i)))
	}
	return records, nil
}

func (e entry) record(where string) record {
	return record{ID: e.TableID, Left: e.TableA, Right: e.TableB, Path: e.Path, Name: e.Name, where: where}
}

// fromString interprets a bare string entry the way a text line is read.
func fromString(kind batch.ItemKind, s, where string) (record, error) {
	if kind != batch.KindPair {
		return single(kind, s, "", where), nil
	}
	left, right, ok := ParsePair(s)
	if !ok {
		return record{}, fmt.Errorf("%w: %s: %q is not a table pair", batch.ErrLoad, where, s)
	}
	return record{Left: left, Right: right, where: where}, nil
}

func single(kind batch.ItemKind, value, name, where string) record {
	if kind == batch.KindQuery {
		return record{Path: value, Name: name, where: where}
	}
	return record{ID: value, Name: name, where: where}
}
