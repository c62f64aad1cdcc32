package resultdb

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/samber/lo"
)

var ErrMalformed = errors.New("malformed result table")

// DefaultColumns are the minimal identifiers of a model.
var DefaultColumns = []string{"arch_id", "input_id"}

const separator = " "

// compressed reports whether a table path designates a zstd-compressed file.
func compressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

// Create writes an empty table holding only a header row.
// Without columns, DefaultColumns is used.
func Create(path string, columns ...string) (*Table, error) {
	t := NewTable(lo.Ternary(len(columns) > 0, columns, DefaultColumns)...)
	if err := Save(t, path); err != nil {
		return nil, err
	}
	return t, nil
}

// Load reads a whole table from disk.
func Load(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	defer file.Close()

	var reader io.Reader = file
	if compressed(path) {
		decoder, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		defer decoder.Close()
		reader = decoder
	}

	t, err := Read(reader)
	if err != nil {
		return nil, fmt.Errorf("load '%s': %w", path, err)
	}
	return t, nil
}

// Read parses a table: a header row naming the columns followed by one row
// per record, tokens separated by single spaces. Blank lines are skipped.
func Read(r io.Reader) (*Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var t *Table
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if text == "" {
			continue
		}
		tokens := strings.Split(text, separator)

		if t == nil {
			for _, column := range tokens {
				if column == "" {
					return nil, fmt.Errorf("%w: empty column name in header", ErrMalformed)
				}
			}
			if dups := lo.FindDuplicates(tokens); len(dups) > 0 {
				return nil, fmt.Errorf("%w: duplicate columns %v", ErrMalformed, dups)
			}
			t = NewTable(tokens...)
			continue
		}

		if len(tokens) != len(t.columns) {
			return nil, fmt.Errorf("%w: line %d has %d fields, expected %d", ErrMalformed, line, len(tokens), len(t.columns))
		}
		t.rows = append(t.rows, lo.Map(tokens, func(token string, _ int) Value { return Parse(token) }))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: no header row", ErrMalformed)
	}
	return t, nil
}

// Save atomically replaces the file at path with the table.
func Save(t *Table, path string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("save '%s': %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	var writer io.Writer = tmp
	var encoder *zstd.Encoder
	if compressed(path) {
		if encoder, err = zstd.NewWriter(tmp); err != nil {
			return fmt.Errorf("save '%s': %w", path, err)
		}
		writer = encoder
	}

	if err = Write(t, writer); err != nil {
		return fmt.Errorf("save '%s': %w", path, err)
	}
	if encoder != nil {
		if err = encoder.Close(); err != nil {
			return fmt.Errorf("save '%s': %w", path, err)
		}
	}
	// The replacement keeps the permissions of the table it replaces
	mode := os.FileMode(0o644)
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
	}
	if err = tmp.Chmod(mode); err != nil {
		return fmt.Errorf("save '%s': %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("save '%s': %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save '%s': %w", path, err)
	}
	return nil
}

// Write serializes the table without a row index. Columns and cells cannot
// contain whitespace since the format has no quoting.
func Write(t *Table, w io.Writer) error {
	buf := bufio.NewWriter(w)

	for _, column := range t.columns {
		if column == "" || strings.ContainsAny(column, " \t\r\n") {
			return fmt.Errorf("column name '%s' cannot be written", column)
		}
	}
	if _, err := buf.WriteString(strings.Join(t.columns, separator) + "\n"); err != nil {
		return err
	}

	for i, row := range t.rows {
		tokens := make([]string, len(row))
		for j, v := range row {
			tokens[j] = v.String()
			if strings.ContainsAny(tokens[j], " \t\r\n") {
				return fmt.Errorf("row %d column '%s': value '%s' contains whitespace", i, t.columns[j], tokens[j])
			}
		}
		if _, err := buf.WriteString(strings.Join(tokens, separator) + "\n"); err != nil {
			return err
		}
	}

	return buf.Flush()
}
