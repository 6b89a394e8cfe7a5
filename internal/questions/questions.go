// Package questions reads the sample test questions shown on the scoring page.
//
// The reference file is a cp1252-encoded table whose fields are separated by
// a double underscore. Only the TestQuestion column is used.
package questions

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const (
	// Column is the header of the column holding the questions.
	Column = "TestQuestion"
	// Separator splits fields within a row.
	Separator = "__"
	// SampleSize is the maximum number of questions offered to the user.
	SampleSize = 2
)

var (
	// ErrMissingColumn is returned when the header has no Column field.
	ErrMissingColumn = errors.New("column " + Column + " not found")
	// ErrTooFewQuestions is returned when fewer than SampleSize distinct questions exist.
	ErrTooFewQuestions = errors.New("not enough distinct questions")
	// ErrEmptyFile is returned when the file has no header row.
	ErrEmptyFile = errors.New("file is empty")
	// ErrUndecodable is returned for bytes that cp1252 leaves undefined.
	ErrUndecodable = errors.New("content is not valid cp1252")
)

var fallback = [SampleSize]string{
	"_Marcel has recently started work in the sales department of a global international. It is his first position working virtually and will be based for most of the year in a remote part of the USA. He has never met his other colleagues in the team and is not sure how to overcome feelings of isolation. Think of at least three ways that Marcel can get to know his colleagues within the sales team and build relations with them.",
	"Write an email to a friend suggesting how to reduce the use of technology.",
}

// Fallback returns the built-in questions used when the reference file cannot be read.
func Fallback() []string {
	return append([]string(nil), fallback[:]...)
}

// LoadError describes why the reference file could not be used.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load questions from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// RowError reports a data row with more fields than the header.
type RowError struct {
	Line     int
	Expected int
	Got      int
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: expected %d fields, saw %d", e.Line, e.Expected, e.Got)
}

// Load reads the reference file at path and returns its first SampleSize
// distinct questions. On any failure it returns the fallback questions
// together with a *LoadError, so callers always get a usable list.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fallback(), &LoadError{Path: path, Err: err}
	}
	defer f.Close()

	qs, err := Parse(f)
	if err != nil {
		return Fallback(), &LoadError{Path: path, Err: err}
	}
	return qs, nil
}

// Parse decodes a cp1252 reference table from r and samples its questions.
func Parse(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(charmap.Windows1252.NewDecoder().Reader(r))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	col := -1
	width := 0
	seen := make(map[string]bool)
	var out []string

	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		// The decoder maps undefined bytes to U+FFFD, which no defined
		// cp1252 byte produces.
		if strings.ContainsRune(text, utf8.RuneError) {
			return nil, fmt.Errorf("line %d: %w", line, ErrUndecodable)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, Separator)

		if col < 0 {
			width = len(fields)
			for i, name := range fields {
				if unquote(strings.TrimSpace(name)) == Column {
					col = i
					break
				}
			}
			if col < 0 {
				return nil, ErrMissingColumn
			}
			continue
		}

		if len(fields) > width {
			return nil, &RowError{Line: line, Expected: width, Got: len(fields)}
		}
		if col >= len(fields) || len(out) == SampleSize {
			continue
		}

		q := strings.TrimSpace(unquote(fields[col]))
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", line+1, err)
	}
	if col < 0 {
		return nil, ErrEmptyFile
	}
	if len(out) < SampleSize {
		return nil, fmt.Errorf("%w: found %d, need %d", ErrTooFewQuestions, len(out), SampleSize)
	}
	return out, nil
}

// unquote strips one pair of enclosing double quotes and collapses doubled quotes.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}

// Catalog is the question sample computed once at startup. It is read-only
// after NewCatalog returns and safe to share between requests.
type Catalog struct {
	source    string
	questions []string
	loadErr   error
}

// NewCatalog loads the questions from path. In strict mode a load failure
// is returned as an error; otherwise the catalog falls back to the built-in
// questions and remembers the failure for display.
func NewCatalog(path string, strict bool) (*Catalog, error) {
	qs, err := Load(path)
	if err != nil {
		if strict {
			return nil, err
		}
		slog.Warn("using fallback questions", "path", path, "error", err)
	} else {
		slog.Info("loaded questions", "path", path, "count", len(qs))
	}
	return &Catalog{source: path, questions: qs, loadErr: err}, nil
}

// Questions returns a copy of the sampled questions.
func (c *Catalog) Questions() []string {
	return append([]string(nil), c.questions...)
}

// Contains reports whether q is one of the offered questions.
func (c *Catalog) Contains(q string) bool {
	for _, s := range c.questions {
		if s == q {
			return true
		}
	}
	return false
}

// At returns the question with the given 1-based position.
func (c *Catalog) At(n int) (string, bool) {
	if n < 1 || n > len(c.questions) {
		return "", false
	}
	return c.questions[n-1], true
}

// LoadErr returns the reason the fallback questions are in use, or nil.
func (c *Catalog) LoadErr() error {
	return c.loadErr
}

// Source returns the path the catalog was loaded from.
func (c *Catalog) Source() string {
	return c.source
}
