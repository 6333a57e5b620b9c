// Package ingest reads the list of videos to harvest and turns it into
// normalized, deduplicated targets.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pauljones0/comment-harvester/internal/util"
)

// Entry is one raw line of input before normalization.
type Entry struct {
	URL         string `yaml:"url"`
	MinComments int    `yaml:"min_comments"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// UnmarshalYAML accepts either a bare URL or a mapping.
func (e *Entry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		e.URL = value.Value
		return nil
	}
	type plain Entry
	return value.Decode((*plain)(e))
}

// EntriesFromURLs wraps plain URLs, e.g. from command-line arguments.
func EntriesFromURLs(urls []string) []Entry {
	entries := make([]Entry, 0, len(urls))
	for _, u := range urls {
		entries = append(entries, Entry{URL: u})
	}
	return entries
}

// LoadTargets reads a targets file. The format follows the extension:
// .yaml/.yml is a list of URLs or {url, min_comments, max_attempts}
// mappings (optionally under a "targets" key), .csv has a url column with
// optional min_comments and max_attempts columns, anything else is one URL
// per line with "#" comments.
func LoadTargets(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\uFEFF"))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(data)
	case ".csv":
		return parseCSV(data)
	default:
		return parseLines(data)
	}
}

func parseYAML(data []byte) ([]Entry, error) {
	var list []Entry
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var doc struct {
		Targets []Entry `yaml:"targets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse targets YAML: %w", err)
	}
	return doc.Targets, nil
}

func parseCSV(data []byte) ([]Entry, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var entries []Entry
	columns := map[string]int{"url": 0, "min_comments": -1, "max_attempts": -1}
	line := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse targets CSV: %w", err)
		}
		line++
		if len(record) == 0 {
			continue
		}

		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "url") {
			for i, name := range record {
				columns[strings.ToLower(strings.TrimSpace(name))] = i
			}
			continue
		}

		e := Entry{URL: field(record, columns["url"])}
		e.MinComments = util.SafeAtoi(field(record, columns["min_comments"]))
		e.MaxAttempts = util.SafeAtoi(field(record, columns["max_attempts"]))
		entries = append(entries, e)
	}
	return entries, nil
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func parseLines(data []byte) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, Entry{URL: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	return entries, nil
}
