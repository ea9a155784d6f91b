// Package batch answers every question of a question document in order,
// writing status and answer back into the document.
package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kyleking/finance-qa/internal/errors"
)

// Question is one entry of a group. Status and Answer are filled in by a run.
type Question struct {
	Question string `json:"question"`
	Status   string `json:"status,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

// QuestionGroup is a list of related questions sharing a group id
type QuestionGroup struct {
	TID  string     `json:"tid"`
	Team []Question `json:"team"`
}

// CountQuestions returns the number of questions across all groups
func CountQuestions(groups []QuestionGroup) int {
	total := 0
	for _, g := range groups {
		total += len(g.Team)
	}

	return total
}

// ParseDocument decodes a question document: a JSON array of groups
func ParseDocument(r io.Reader) ([]QuestionGroup, error) {
	var groups []QuestionGroup

	dec := json.NewDecoder(r)
	if err := dec.Decode(&groups); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeValidation, "invalid question document").
			WithSuggestion(`Expected a JSON array like [{"tid": "g1", "team": [{"question": "..."}]}]`)
	}

	for i, g := range groups {
		if strings.TrimSpace(g.TID) == "" {
			return nil, errors.Newf(errors.ErrTypeValidation, "group %d has no tid", i)
		}

		for j, q := range g.Team {
			if strings.TrimSpace(q.Question) == "" {
				return nil, errors.Newf(errors.ErrTypeValidation, "group %s question %d is empty", g.TID, j)
			}
		}
	}

	return groups, nil
}

// LoadDocument reads and parses the question document at path
func LoadDocument(path string) ([]QuestionGroup, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeFileSystem, "failed to open question document %s", path)
	}
	defer f.Close()

	return ParseDocument(f)
}

// WriteDocument encodes groups with two-space indentation, keeping non-ASCII
// text and markup unescaped
func WriteDocument(w io.Writer, groups []QuestionGroup) error {
	if groups == nil {
		groups = []QuestionGroup{}
	}

	return writeIndented(w, groups)
}

// SaveDocument writes groups to path, replacing it atomically
func SaveDocument(path string, groups []QuestionGroup) error {
	var buf bytes.Buffer
	if err := WriteDocument(&buf, groups); err != nil {
		return err
	}

	return writeFileAtomic(path, buf.Bytes())
}

// WriteLog encodes the execution log in the same layout as documents
func WriteLog(w io.Writer, entries []LogEntry) error {
	if entries == nil {
		entries = []LogEntry{}
	}

	return writeIndented(w, entries)
}

// SaveLog writes the execution log to path
func SaveLog(path string, entries []LogEntry) error {
	var buf bytes.Buffer
	if err := WriteLog(&buf, entries); err != nil {
		return err
	}

	return writeFileAtomic(path, buf.Bytes())
}

func writeIndented(w io.Writer, v any) error {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to encode JSON")
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to write JSON")
	}

	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to create output directory")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to create temp file")
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to write temp file")
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to close temp file")
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)

		return errors.Wrap(err, errors.ErrTypeFileSystem, fmt.Sprintf("failed to replace %s", path))
	}

	return nil
}
