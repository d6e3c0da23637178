package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/tailscale/hujson"
	"github.com/tidwall/pretty"
	"github.com/toon-format/toon-go"
	"gopkg.in/yaml.v3"
)

var spewConfig = spew.ConfigState{
	Indent:                  "  ",
	SortKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// writeValue writes v to w in format
func writeValue(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		d, err := json.Marshal(v)
		if err != nil {
			return err
		}
		opts := *pretty.DefaultOptions
		opts.SortKeys = true
		_, err = w.Write(pretty.PrettyOptions(d, &opts))
		return err
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatTOON:
		d, err := toon.Marshal(v)
		if err != nil {
			return err
		}
		if _, err = w.Write(d); err != nil {
			return err
		}
		_, err = io.WriteString(w, "\n")
		return err
	case formatSpew:
		spewConfig.Fdump(w, v)
		return nil
	case formatTable:
		return writeTable(w, v)
	}
	return fmt.Errorf("%w: '%s'", ErrInvalidFormat, format)
}

// parseRecordData accepts a record as json (comments and trailing
// commas allowed) or yaml
func parseRecordData(d []byte) (map[string]any, error) {
	var m map[string]any
	if std, err := hujson.Standardize(d); err == nil {
		if err = json.Unmarshal(std, &m); err != nil {
			return nil, fmt.Errorf("record must be a json object: %w", err)
		}
		if m == nil {
			return nil, fmt.Errorf("record is empty")
		}
		return m, nil
	}
	if err := yaml.Unmarshal(d, &m); err != nil {
		return nil, fmt.Errorf("record must be a json or yaml object: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("record is empty")
	}
	return m, nil
}

// unifiedDiff returns "" if a and b are the same
func unifiedDiff(name string, a, b []byte) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: name,
		ToFile:   name + " (formatted)",
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// flatten turns nested maps into "a/b" keys, attributes become "@name"
func flatten(prefix string, m map[string]any, res map[string]any) {
	for k, v := range m {
		if prefix == "" && k == "attributes" {
			if attrs, ok := v.(map[string]any); ok {
				for ak, av := range attrs {
					res["@"+ak] = av
				}
				continue
			}
		}
		key := k
		if prefix != "" {
			key = prefix + "/" + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(key, sub, res)
			continue
		}
		res[key] = v
	}
}

// columns puts @id first, then other attributes, then fields, each sorted
func columns(rows []map[string]any) []string {
	var res []string
	for _, row := range rows {
		for k := range row {
			if !slices.Contains(res, k) {
				res = append(res, k)
			}
		}
	}
	rank := func(k string) int {
		switch {
		case k == "@id":
			return 0
		case strings.HasPrefix(k, "@"):
			return 1
		}
		return 2
	}
	sort.Slice(res, func(i, j int) bool {
		ri, rj := rank(res[i]), rank(res[j])
		if ri != rj {
			return ri < rj
		}
		return res[i] < res[j]
	})
	return res
}

func writeTable(w io.Writer, v any) error {
	var maps []map[string]any
	switch x := v.(type) {
	case map[string]any:
		maps = []map[string]any{x}
	case []map[string]any:
		maps = x
	default:
		return fmt.Errorf("%w: can't show %T as a table", ErrInvalidFormat, v)
	}
	rows := make([]map[string]any, 0, len(maps))
	for _, m := range maps {
		row := map[string]any{}
		flatten("", m, row)
		rows = append(rows, row)
	}
	keys := columns(rows)

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false

	header := make(table.Row, len(keys))
	for i, k := range keys {
		header[i] = k
	}
	tbl.AppendHeader(header)
	for _, r := range rows {
		row := make(table.Row, len(keys))
		for i, k := range keys {
			if val, ok := r[k]; ok {
				row[i] = val
			}
		}
		tbl.AppendRow(row)
	}
	tbl.Render()
	return nil
}

var (
	diffAdd  = color.New(color.FgGreen)
	diffDel  = color.New(color.FgRed)
	diffHunk = color.New(color.FgCyan)
)

// writeDiff colors the lines of a unified diff unless color.NoColor is set
func writeDiff(w io.Writer, diff string) error {
	if color.NoColor {
		_, err := io.WriteString(w, diff)
		return err
	}
	for _, line := range strings.SplitAfter(diff, "\n") {
		var err error
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			_, err = io.WriteString(w, line)
		case strings.HasPrefix(line, "+"):
			_, err = diffAdd.Fprint(w, line)
		case strings.HasPrefix(line, "-"):
			_, err = diffDel.Fprint(w, line)
		case strings.HasPrefix(line, "@@"):
			_, err = diffHunk.Fprint(w, line)
		default:
			_, err = io.WriteString(w, line)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
