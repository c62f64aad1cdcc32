package resultdb

import (
	"bytes"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDefaultColumns(t *testing.T) {
	file := path.Join(t.TempDir(), "fit.txt")

	_, err := Create(file)
	require.NoError(t, err)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "arch_id input_id\n", string(data))
}

func TestSaveLoad(t *testing.T) {
	for _, name := range []string{"fit.txt", "fit.txt.zst"} {
		t.Run(name, func(t *testing.T) {
			file := path.Join(t.TempDir(), name)
			table := newTestTable()
			table.Append(Record{F("arch_id", 3), F("input_id", 1), F("loss", nil)})

			require.NoError(t, Save(table, file))
			loaded, err := Load(file)
			require.NoError(t, err)

			assert.Equal(t, table.Columns(), loaded.Columns())
			assert.Equal(t, table.Rows(), loaded.Rows())
		})
	}
}

func TestSaveKeepsPermissions(t *testing.T) {
	file := path.Join(t.TempDir(), "fit.txt")

	table, err := Create(file)
	require.NoError(t, err)
	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	require.NoError(t, os.Chmod(file, 0o640))
	table.Append(Record{F("arch_id", 1), F("input_id", 2)})
	require.NoError(t, Save(table, file))

	info, err = os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestWriteFormat(t *testing.T) {
	table := NewTable("arch_id", "hyp_lr", "loss")
	table.Append(Record{F("arch_id", 1), F("hyp_lr", 0.001), F("loss", nil)})

	var buf bytes.Buffer
	require.NoError(t, Write(table, &buf))

	assert.Equal(t, "arch_id hyp_lr loss\n1 0.001 \n", buf.String())
}

func TestWriteRejectsWhitespace(t *testing.T) {
	table := NewTable("name")
	table.Append(Record{F("name", "two words")})

	err := Write(table, &bytes.Buffer{})
	assert.ErrorContains(t, err, "contains whitespace")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(path.Join(t.TempDir(), "absent.txt"))
	assert.ErrorIs(t, err, ErrMalformed)
}

var malformedTables = []struct {
	source   string
	expected string
}{
	{"", "no header row"},
	{"a  b\n", "empty column name in header"},
	{"a a\n1 2\n", "duplicate columns"},
	{"a b\n1 2 3\n", "line 2 has 3 fields, expected 2"},
}

func TestReadMalformed(t *testing.T) {
	for _, test := range malformedTables {
		_, err := Read(strings.NewReader(test.source))
		assert.ErrorIs(t, err, ErrMalformed, "%q", test.source)
		assert.ErrorContains(t, err, test.expected, "%q", test.source)
	}
}

func TestReadSkipsBlankLines(t *testing.T) {
	table, err := Read(strings.NewReader("a b\r\n\n1 x\n"))
	require.NoError(t, err)

	require.Equal(t, 1, table.Len())
	assert.Equal(t, String("x"), table.Get(0, "b"))
}
