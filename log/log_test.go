package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readDir(t *testing.T, dir string) string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	d, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	return string(d)
}

func TestWriteDaily(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")
	w := NewWriteDaily(dir)
	require.NoError(t, w.WriteString("hello\n"))
	require.NoError(t, w.Write([]byte("world\n")))
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.Equal(t, "hello\nworld\n", readDir(t, dir))
	name := time.Now().UTC().Format("2006-01-02") + ".txt"
	_, err := os.Stat(filepath.Join(dir, name))
	assert.NoError(t, err)

	var nilWriter *WriteDaily
	assert.NoError(t, nilWriter.WriteString("ignored"))
	assert.NoError(t, nilWriter.Close())
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	var got []string
	Init(&Config{Dir: dir, OnLog: func(s string) { got = append(got, s) }})
	defer Close()

	Logf("opened %s\n", "db.xml")
	Errorf("failed: %d", 42)
	Event("xmlstore.save", "path", "db.xml", "size", 120)
	assert.False(t, IfErrf(nil))
	Close()

	require.Len(t, got, 2)
	assert.Equal(t, "opened db.xml\n", got[0])
	assert.True(t, strings.HasPrefix(got[1], "failed: 42\n"))
	assert.Contains(t, got[1], "log_test.go:")

	assert.True(t, strings.HasPrefix(readDir(t, filepath.Join(dir, "log")), "opened db.xml\n"))
	assert.Contains(t, readDir(t, filepath.Join(dir, "errors")), "failed: 42")
	events := readDir(t, filepath.Join(dir, "events"))
	assert.True(t, strings.HasPrefix(events, "# xmlstore.save "), events)
	assert.Contains(t, events, "path: db.xml")
	assert.Contains(t, events, "size: 120")
}

func TestFormatEvent(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d := formatEvent("xmlstore.open", ts, nil)
	assert.Equal(t, "# xmlstore.open 2025-01-01T00:00:00Z\n", string(d))

	d = formatEvent("xmlstore.open", ts, []any{"next_id", 3})
	s := string(d)
	assert.True(t, strings.HasPrefix(s, "# xmlstore.open 2025-01-01T00:00:00Z\nnext_id: 3"), s)
	assert.True(t, strings.HasSuffix(s, "\n"))

	assert.Panics(t, func() { formatEvent("bad", ts, []any{"key"}) })
	assert.Panics(t, func() { formatEvent("bad", ts, []any{[]string{"a"}, 1}) })
}

func TestVerbosef(t *testing.T) {
	var got []string
	Init(&Config{Dir: t.TempDir(), OnLog: func(s string) { got = append(got, s) }})
	defer Close()
	Verbose = false
	Verbosef("hidden\n")
	Verbose = true
	defer func() { Verbose = false }()
	Verbosef("shown\n")
	assert.Equal(t, []string{"shown\n"}, got)
}

func TestOutput(t *testing.T) {
	var sb strings.Builder
	Output = &sb
	defer func() { Output = os.Stdout }()
	dir := t.TempDir()
	Init(&Config{Dir: dir})
	defer Close()

	Logf("saved %d bytes\n", 120)
	EventWithDuration("xmlstore.save", 1500*time.Microsecond, "path", "db.xml")
	Close()
	assert.Equal(t, "saved 120 bytes\n", sb.String())
	assert.Contains(t, readDir(t, filepath.Join(dir, "events")), "durmicro: 1500")
}
