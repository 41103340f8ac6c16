// Package mapping loads field value mapping tables used during document
// projection. A mapping file is a plain text file of KEY = VALUE lines;
// lines beginning with ';' and blank lines are skipped. Reserved keys
// control behavior for missing and empty source values.
package mapping

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Reserved sentinel keys recognized in mapping files.
const (
	// Default is substituted when a lookup misses.
	Default = "##default"
	// Empty is substituted when the source field is absent or empty on a
	// scalar value.
	Empty = "##empty"
	// EmptyArray is substituted as a singleton list when the source field is
	// absent or empty on a list value.
	EmptyArray = "##emptyarray"
)

// Table is a string-to-string mapping table with optional sentinels.
type Table map[string]string

// Load reads a mapping table from the given file.
func Load(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping file: %w", err)
	}
	defer f.Close()
	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("mapping file %s: %w", path, err)
	}
	return t, nil
}

// Parse reads mapping lines from r. A line of the form "KEY =" yields an
// empty string value; a non-comment line without the delimiter is a parse
// error.
func Parse(r io.Reader) (Table, error) {
	table := Table{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, fmt.Errorf("line %d: missing '=' delimiter", lineNo)
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", lineNo)
		}
		table[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	return table, nil
}

// MapValue maps a single value through the table. The second return reports
// whether the result should be kept: an unmapped value without a ##default
// entry is dropped so that a mapped field never carries values outside the
// table's range.
func (t Table) MapValue(v string) (string, bool) {
	if mapped, ok := t[v]; ok {
		return mapped, true
	}
	if def, ok := t[Default]; ok {
		return def, true
	}
	return "", false
}

// Apply maps a projected field value through the table. List values are
// mapped element-wise, deduplicated, and reindexed; scalars are mapped
// directly. The second return reports whether the field should be kept.
func (t Table) Apply(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case []string:
		out := make([]string, 0, len(v))
		seen := make(map[string]bool, len(v))
		for _, item := range v {
			mapped, ok := t.MapValue(item)
			if !ok || seen[mapped] {
				continue
			}
			seen[mapped] = true
			out = append(out, mapped)
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	case []interface{}:
		strs := make([]string, 0, len(v))
		for _, item := range v {
			strs = append(strs, fmt.Sprintf("%v", item))
		}
		return t.Apply(strs)
	case string:
		mapped, ok := t.MapValue(v)
		if !ok {
			return nil, false
		}
		return mapped, true
	default:
		mapped, ok := t.MapValue(fmt.Sprintf("%v", value))
		if !ok {
			return nil, false
		}
		return mapped, true
	}
}

// EmptyReplacement returns the configured substitute for an absent or empty
// source field. When the field is list-valued, ##emptyarray takes precedence
// and is returned as a singleton list.
func (t Table) EmptyReplacement(list bool) (interface{}, bool) {
	if list {
		if v, ok := t[EmptyArray]; ok {
			return []string{v}, true
		}
	}
	if v, ok := t[Empty]; ok {
		return v, true
	}
	return nil, false
}
