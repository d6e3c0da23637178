package xmlstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjk/xmlstore/storage"
)

var (
	testSchema = SimpleSchema{Root: "catalog", Container: "items", Tag: "item"}
	testNow    = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
)

const testPath = "db.xml"

type logCapture struct {
	lines []string
}

func (l *logCapture) logf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func memConfig(mem *storage.Memory) *Config {
	return &Config{
		Path:    testPath,
		Create:  true,
		Schema:  testSchema,
		Backend: mem,
		Now:     func() time.Time { return testNow },
		Logf:    func(string, ...any) {},
	}
}

func openMemory(t *testing.T, files map[string][]byte) (*Store, *storage.Memory) {
	mem := storage.NewMemory(files)
	s, err := Open(memConfig(mem))
	require.NoError(t, err)
	return s, mem
}

func city(name string) Record {
	return Record{Fields: Fields{Text("city", name)}}
}

func scan(t *testing.T, s *Store) []Record {
	var res []Record
	for rec := range s.All() {
		res = append(res, rec)
	}
	require.NoError(t, s.Err())
	return res
}

func TestBerlinParis(t *testing.T) {
	s, _ := openMemory(t, nil)
	id, err := s.Add(Record{Attributes: map[string]string{}, Fields: Fields{Text("city", "Berlin")}})
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	id, err = s.Add(city("Paris"))
	require.NoError(t, err)
	assert.Equal(t, 2, id)

	rec, ok := s.FindByID(1)
	require.True(t, ok)
	v, _ := rec.Get("city")
	assert.Equal(t, "Berlin", v)
	rec, ok = s.FindByID(2)
	require.True(t, ok)
	v, _ = rec.Get("city")
	assert.Equal(t, "Paris", v)

	m, ok, err := s.FindBy([]string{"city"}, "Berlin")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, m.Len())
	require.True(t, m.Next())
	assert.Equal(t, "1", m.Current().Attributes["id"])
	assert.False(t, m.Next())
	assert.Equal(t, s, m.Store())

	require.NoError(t, s.Save())
	require.NoError(t, s.Reopen())
	got := scan(t, s)
	exp := []Record{
		{Attributes: map[string]string{"id": "1"}, Fields: Fields{Text("city", "Berlin")}},
		{Attributes: map[string]string{"id": "2"}, Fields: Fields{Text("city", "Paris")}},
	}
	require.Len(t, got, 2)
	for i := range exp {
		assert.True(t, exp[i].Equal(got[i]), "record %d: %v", i, got[i])
	}
	require.NoError(t, s.Close())
}

func TestAutoIncrement(t *testing.T) {
	s, mem := openMemory(t, nil)
	const n = 25
	for i := 1; i <= n; i++ {
		id, err := s.Add(city(fmt.Sprintf("city %d", i)))
		require.NoError(t, err)
		assert.Equal(t, i, id)
	}
	assert.Equal(t, n+1, s.Meta().NextID)
	assert.Equal(t, testNow.Unix(), s.Meta().LastAdd.Unix())
	require.NoError(t, s.Close())

	d, err := mem.ReadFile(testPath)
	require.NoError(t, err)
	assert.Contains(t, string(d), "<ai>26</ai>")
	assert.Contains(t, string(d), fmt.Sprintf("<last_add>%d</last_add>", testNow.Unix()))

	s, err = Open(memConfig(mem))
	require.NoError(t, err)
	assert.Equal(t, n+1, s.Meta().NextID)
	id, err := s.Add(city("one more"))
	require.NoError(t, err)
	assert.Equal(t, n+1, id)
}

func TestSaveIdempotent(t *testing.T) {
	s, mem := openMemory(t, nil)
	// creating the document is the first write
	assert.Equal(t, 1, mem.Writes(testPath))
	assert.False(t, s.Dirty())
	require.NoError(t, s.Save())
	assert.Equal(t, 1, mem.Writes(testPath))

	_, err := s.Add(city("Berlin"))
	require.NoError(t, err)
	assert.True(t, s.Dirty())
	require.NoError(t, s.Save())
	assert.Equal(t, 2, mem.Writes(testPath))
	d1, _ := mem.ReadFile(testPath)

	require.NoError(t, s.Save())
	assert.Equal(t, 2, mem.Writes(testPath))
	d2, _ := mem.ReadFile(testPath)
	assert.Equal(t, d1, d2)

	require.NoError(t, s.Close())
	assert.Equal(t, 2, mem.Writes(testPath))
}

func TestIteration(t *testing.T) {
	s, _ := openMemory(t, nil)
	const n = 10
	for i := 0; i < n; i++ {
		_, err := s.Add(city(fmt.Sprintf("c%d", i)))
		require.NoError(t, err)
	}
	// the cursor reads the document as it was opened
	assert.Empty(t, scan(t, s))

	require.NoError(t, s.Save())
	assert.Empty(t, scan(t, s))
	require.NoError(t, s.Reopen())

	require.NoError(t, s.Rewind())
	for i := 0; i < n; i++ {
		require.True(t, s.Next())
		rec := s.Current()
		assert.Equal(t, i+1, rec.ID())
		v, _ := rec.Get("city")
		assert.Equal(t, fmt.Sprintf("c%d", i), v)
	}
	for range 3 {
		assert.False(t, s.Next())
	}
	assert.NoError(t, s.Err())
	assert.Equal(t, Record{}, s.Current())

	// All rewinds
	assert.Len(t, scan(t, s), n)

	// stopping early
	var ids []int
	for rec := range s.All() {
		ids = append(ids, rec.ID())
		if len(ids) == 3 {
			break
		}
	}
	assert.Equal(t, []int{1, 2, 3}, ids)
}

func TestFindByID(t *testing.T) {
	s, _ := openMemory(t, nil)
	for _, c := range []string{"a", "b", "c"} {
		_, err := s.Add(city(c))
		require.NoError(t, err)
	}
	for id, exp := range map[int]string{1: "a", 2: "b", 3: "c"} {
		rec, ok := s.FindByID(id)
		require.True(t, ok)
		assert.Equal(t, id, rec.ID())
		v, _ := rec.Get("city")
		assert.Equal(t, exp, v)
	}
	for _, id := range []int{0, -1, 4, 100} {
		_, ok := s.FindByID(id)
		assert.False(t, ok, "id %d", id)
	}
}

func TestFindBy(t *testing.T) {
	s, _ := openMemory(t, nil)
	for _, c := range []string{"Berlin", "berlin", "Berlin", "Berlin-Mitte", "Paris"} {
		_, err := s.Add(city(c))
		require.NoError(t, err)
	}
	m, ok, err := s.FindBy([]string{"city"}, "Berlin")
	require.NoError(t, err)
	require.True(t, ok)
	var ids []int
	for rec := range m.All() {
		ids = append(ids, rec.ID())
	}
	assert.Equal(t, []int{1, 3}, ids)
	assert.Len(t, m.Records(), 2)

	// All rewinds the model
	m.Rewind()
	require.True(t, m.Next())
	assert.Equal(t, 1, m.Current().ID())

	for _, v := range []string{"BERLIN", "Berl", "Berlin ", "London"} {
		m, ok, err := s.FindBy([]string{"city"}, v)
		assert.NoError(t, err)
		assert.False(t, ok, v)
		assert.Nil(t, m)
	}

	_, _, err = s.FindBy([]string{"bad name"}, "x")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, _, err = s.FindBy(nil, "x")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, _, err = s.FindBy([]string{"city[1]"}, "x")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestFindByNested(t *testing.T) {
	s, mem := openMemory(t, nil)
	add := func(c, zip string) {
		_, err := s.Add(Record{Fields: Fields{
			Text("name", c),
			Group("address", Text("city", c), Text("zip", zip)),
		}})
		require.NoError(t, err)
	}
	add("Berlin", "10115")
	add("Paris", "75001")
	add("Berlin", "10117")
	require.NoError(t, s.Close())

	// the saved file is indented, values must not depend on it
	s, err := Open(memConfig(mem))
	require.NoError(t, err)

	m, ok, err := s.FindByField("address/city", "Berlin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, m.Len())

	m, ok, err = s.FindBy([]string{"address"}, "Paris75001")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, m.Len())
	assert.Equal(t, 2, m.Records()[0].ID())

	_, ok, err = s.FindByField("address/zip", "10117")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMissingMeta(t *testing.T) {
	files := map[string][]byte{
		testPath: []byte(`<catalog><items><item id="1"/></items></catalog>`),
	}
	_, err := Open(memConfig(storage.NewMemory(files)))
	assert.ErrorIs(t, err, ErrNoMeta)

	// meta must be a direct child of the root
	files[testPath] = []byte(`<catalog><items><meta><ai>2</ai></meta></items></catalog>`)
	_, err = Open(memConfig(storage.NewMemory(files)))
	assert.ErrorIs(t, err, ErrNoMeta)
}

func TestMetaReconcile(t *testing.T) {
	tests := []struct {
		meta    string
		next    int
		warning bool
	}{
		{"<ai>9</ai>", 9, false},
		{"<ai>6</ai>", 6, false},
		{"", 6, true},
		{"<ai>abc</ai>", 6, true},
		{"<ai>0</ai>", 6, true},
		{"<ai>5</ai>", 6, true},
		{"<ai>2</ai>", 6, true},
	}
	for _, tc := range tests {
		doc := `<catalog><meta>` + tc.meta + `</meta><items><item id="3"/><item id="5"/></items></catalog>`
		mem := storage.NewMemory(map[string][]byte{testPath: []byte(doc)})
		var logs logCapture
		config := memConfig(mem)
		config.Logf = logs.logf
		s, err := Open(config)
		require.NoError(t, err, tc.meta)
		assert.Equal(t, tc.next, s.Meta().NextID, tc.meta)
		assert.Equal(t, tc.warning, len(logs.lines) > 0, tc.meta)

		id, err := s.Add(city("x"))
		require.NoError(t, err)
		assert.Equal(t, tc.next, id)
	}
}

func TestMetaEmptyStore(t *testing.T) {
	doc := `<catalog><meta/><items/></catalog>`
	mem := storage.NewMemory(map[string][]byte{testPath: []byte(doc)})
	s, err := Open(memConfig(mem))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Meta().NextID)
	_, err = s.Add(city("x"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	d, _ := mem.ReadFile(testPath)
	assert.Contains(t, string(d), "<ai>2</ai>")
	assert.Contains(t, string(d), "<last_add>")
}

func TestOpenErrors(t *testing.T) {
	mem := storage.NewMemory(nil)
	config := memConfig(mem)
	config.Create = false
	_, err := Open(config)
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.False(t, must(mem.Exists(testPath)))

	_, err = Open(&Config{Path: testPath, Schema: testSchema})
	assert.Error(t, err, "Dir is required without a Backend")

	_, err = Open(&Config{Dir: ".", Schema: testSchema})
	assert.Error(t, err)

	_, err = Open(&Config{Dir: ".", Path: testPath})
	assert.Error(t, err)

	_, err = Open(nil)
	assert.Error(t, err)

	config = memConfig(mem)
	config.Schema = SimpleSchema{Root: "catalog", Container: "items", Tag: "bad tag"}
	_, err = Open(config)
	assert.ErrorIs(t, err, ErrInvalidName)

	mem = storage.NewMemory(map[string][]byte{testPath: []byte("<catalog><meta>")})
	_, err = Open(memConfig(mem))
	assert.Error(t, err)
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func TestCreateKeepsExisting(t *testing.T) {
	s, mem := openMemory(t, nil)
	_, err := s.Add(city("Berlin"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(memConfig(mem))
	require.NoError(t, err)
	assert.Len(t, scan(t, s), 1)
	assert.Equal(t, 2, s.Meta().NextID)
}

func TestReopenKeepsUnsavedIDs(t *testing.T) {
	s, _ := openMemory(t, nil)
	_, err := s.Add(city("a"))
	require.NoError(t, err)
	require.NoError(t, s.Save())
	_, err = s.Add(city("b"))
	require.NoError(t, err)

	require.NoError(t, s.Reopen())
	assert.Len(t, scan(t, s), 1)
	assert.Equal(t, 3, s.Meta().NextID)
	id, err := s.Add(city("c"))
	require.NoError(t, err)
	assert.Equal(t, 3, id)

	require.NoError(t, s.Save())
	require.NoError(t, s.Reopen())
	assert.Len(t, scan(t, s), 3)
}

func TestAddInvalid(t *testing.T) {
	s, _ := openMemory(t, nil)
	_, err := s.Add(Record{Fields: Fields{Text("bad name", "x")}})
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = s.Add(Record{Attributes: map[string]string{"a:b": "x"}})
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = s.Add(Record{Fields: Fields{Group("ok", Text("-bad", "x"))}})
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Equal(t, 1, s.Meta().NextID)
	assert.False(t, s.Dirty())

	// the id attribute is always assigned
	attrs := map[string]string{"id": "100", "lang": "de"}
	id, err := s.Add(Record{Attributes: attrs, Fields: Fields{Text("city", "Köln")}})
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, "100", attrs["id"], "caller's map is not modified")
	rec, ok := s.FindByID(1)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"id": "1", "lang": "de"}, rec.Attributes)
}

func TestAddNoContainer(t *testing.T) {
	doc := `<catalog><meta><ai>1</ai></meta></catalog>`
	mem := storage.NewMemory(map[string][]byte{testPath: []byte(doc)})
	s, err := Open(memConfig(mem))
	require.NoError(t, err)
	assert.Empty(t, scan(t, s))
	_, err = s.Add(city("x"))
	assert.ErrorIs(t, err, ErrNoContainer)
	assert.Equal(t, 1, s.Meta().NextID)
}

func TestAddComplex(t *testing.T) {
	s, mem := openMemory(t, nil)
	id, err := s.AddComplex(map[string]string{"lang": "en"}, []Descriptor{
		Describe("title", "Hello", "shown in the list"),
		Describe("body", "<p>Hello <b>world</b></p>", ""),
		{Name: "author", Children: Fields{Text("name", "kjk")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	rec, ok := s.FindByID(1)
	require.True(t, ok)
	assert.Equal(t, "en", rec.Attributes["lang"])
	v, _ := rec.Get("body")
	assert.Equal(t, "<p>Hello <b>world</b></p>", v)
	v, _ = rec.Get("author", "name")
	assert.Equal(t, "kjk", v)

	_, err = s.AddComplex(nil, []Descriptor{Describe("title", "x", "bad -- comment")})
	assert.ErrorIs(t, err, ErrInvalidComment)
	_, err = s.AddComplex(map[string]string{"1": "x"}, nil)
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Equal(t, 2, s.Meta().NextID)

	require.NoError(t, s.Close())
	d, _ := mem.ReadFile(testPath)
	assert.Contains(t, string(d), "<!--shown in the list-->")
	assert.Contains(t, string(d), "<![CDATA[<p>Hello <b>world</b></p>]]>")

	s, err = Open(memConfig(mem))
	require.NoError(t, err)
	got := scan(t, s)
	require.Len(t, got, 1)
	v, _ = got[0].Get("body")
	assert.Equal(t, "<p>Hello <b>world</b></p>", v)
}

func TestNestedContainer(t *testing.T) {
	mem := storage.NewMemory(nil)
	config := memConfig(mem)
	config.Schema = SimpleSchema{Root: "site", Container: "data/posts", Tag: "post"}
	s, err := Open(config)
	require.NoError(t, err)
	_, err = s.Add(Record{Fields: Fields{Text("title", "first")}})
	require.NoError(t, err)
	require.NoError(t, s.Save())
	require.NoError(t, s.Reopen())
	got := scan(t, s)
	require.Len(t, got, 1)
	v, _ := got[0].Get("title")
	assert.Equal(t, "first", v)

	d, _ := mem.ReadFile(testPath)
	assert.True(t, strings.HasPrefix(string(d), `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, string(d), "<data>\n    <posts>\n      <post id=\"1\">")
}

func TestClosed(t *testing.T) {
	s, _ := openMemory(t, nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err := s.Add(city("x"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Save(), ErrClosed)
	assert.ErrorIs(t, s.Reopen(), ErrClosed)
	assert.ErrorIs(t, s.Rewind(), ErrClosed)
	assert.False(t, s.Next())
	_, ok := s.FindByID(1)
	assert.False(t, ok)
	_, _, err = s.FindBy([]string{"city"}, "x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWithDir(t *testing.T) {
	dir := t.TempDir()
	config := &Config{
		Dir:    dir,
		Path:   "catalog.xml",
		Create: true,
		Schema: testSchema,
	}
	err := With(config, func(s *Store) error {
		_, err := s.Add(city("Berlin"))
		return err
	})
	require.NoError(t, err)
	d, err := os.ReadFile(filepath.Join(dir, "catalog.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(d), "<city>Berlin</city>")

	// saved even when fn panics
	func() {
		defer func() {
			assert.NotNil(t, recover())
		}()
		_ = With(config, func(s *Store) error {
			_, err := s.Add(city("Paris"))
			require.NoError(t, err)
			panic("simulated crash")
		})
	}()

	errFn := fmt.Errorf("fn failed")
	err = With(config, func(s *Store) error {
		assert.Equal(t, 3, s.Meta().NextID)
		assert.Len(t, scan(t, s), 2)
		return errFn
	})
	assert.ErrorIs(t, err, errFn)
}

func TestDirCursorView(t *testing.T) {
	dir := t.TempDir()
	config := &Config{
		Dir:    dir,
		Path:   "catalog.xml",
		Create: true,
		Schema: testSchema,
		Logf:   func(string, ...any) {},
	}
	s, err := Open(config)
	require.NoError(t, err)
	_, err = s.Add(city("Berlin"))
	require.NoError(t, err)
	require.NoError(t, s.Save())
	// the open file still has the old content
	assert.Empty(t, scan(t, s))
	require.NoError(t, s.Reopen())
	assert.Len(t, scan(t, s), 1)
	require.NoError(t, s.Close())

	config.Path = "catalog.xml.gz"
	s, err = Open(config)
	require.NoError(t, err)
	_, err = s.Add(city("Paris"))
	require.NoError(t, err)
	require.NoError(t, s.Save())
	require.NoError(t, s.Reopen())
	assert.Len(t, scan(t, s), 1)
	require.NoError(t, s.Close())
}

func TestReopenMissing(t *testing.T) {
	s, _ := openMemory(t, nil)
	// a backend that lost the file
	s.backend = storage.NewMemory(nil)
	err := s.Reopen()
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.False(t, s.Next())
	assert.ErrorIs(t, s.Err(), ErrFileNotFound)
	assert.ErrorIs(t, s.Rewind(), ErrFileNotFound)
}

func TestSpecialTextSurvivesSave(t *testing.T) {
	values := []string{
		"a\r\nb",
		"\r",
		"tab\there\nnext line",
		`single ' and double "`,
		"<b>\r\n</b>",
	}
	s, mem := openMemory(t, nil)
	for _, v := range values {
		rec := Record{
			Attributes: map[string]string{"note": v},
			Fields:     Fields{Text("f", v)},
		}
		_, err := s.Add(rec)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	s, err := Open(memConfig(mem))
	require.NoError(t, err)
	got := scan(t, s)
	require.Len(t, got, len(values))
	for i, v := range values {
		text, _ := got[i].Get("f")
		assert.Equal(t, v, text, "field %d", i)
		assert.Equal(t, v, got[i].Attributes["note"], "attribute %d", i)
	}
	rec, ok := s.FindByID(1)
	require.True(t, ok)
	text, _ := rec.Get("f")
	assert.Equal(t, "a\r\nb", text)
}

func TestAddInvalidText(t *testing.T) {
	s, _ := openMemory(t, nil)
	for _, v := range []string{"a\x01b", "\xff\xfe", "nul\x00", "\uFFFE"} {
		_, err := s.Add(Record{Fields: Fields{Text("f", v)}})
		assert.ErrorIs(t, err, ErrInvalidValue, "%q", v)
		_, err = s.Add(Record{Fields: Fields{Group("g", Text("f", v))}})
		assert.ErrorIs(t, err, ErrInvalidValue, "%q", v)
		_, err = s.Add(Record{Attributes: map[string]string{"a": v}})
		assert.ErrorIs(t, err, ErrInvalidValue, "%q", v)
		_, err = s.AddComplex(nil, []Descriptor{Describe("f", v, "")})
		assert.ErrorIs(t, err, ErrInvalidValue, "%q", v)
	}
	_, err := s.AddComplex(nil, []Descriptor{Describe("f", "x", "line\r\nbreak")})
	assert.ErrorIs(t, err, ErrInvalidComment)
	assert.Equal(t, 1, s.Meta().NextID)
	assert.False(t, s.Dirty())
}

type flakyBackend struct {
	*storage.Memory
	fail bool
}

var errWriteFailed = errors.New("write failed")

func (b *flakyBackend) WriteFile(path string, data []byte) error {
	if b.fail {
		return errWriteFailed
	}
	return b.Memory.WriteFile(path, data)
}

func TestCloseRetry(t *testing.T) {
	b := &flakyBackend{Memory: storage.NewMemory(nil)}
	config := memConfig(b.Memory)
	config.Backend = b
	s, err := Open(config)
	require.NoError(t, err)
	_, err = s.Add(city("Berlin"))
	require.NoError(t, err)

	b.fail = true
	assert.ErrorIs(t, s.Close(), errWriteFailed)
	assert.True(t, s.Dirty())
	_, err = s.Add(city("Paris"))
	require.NoError(t, err, "a failed Close keeps the store open")

	b.fail = false
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Save(), ErrClosed)

	s, err = Open(config)
	require.NoError(t, err)
	assert.Len(t, scan(t, s), 2)
}

func TestWithSaveFails(t *testing.T) {
	b := &flakyBackend{Memory: storage.NewMemory(nil)}
	config := memConfig(b.Memory)
	config.Backend = b
	var store *Store
	err := With(config, func(s *Store) error {
		store = s
		b.fail = true
		_, err := s.Add(city("Berlin"))
		return err
	})
	assert.ErrorIs(t, err, errWriteFailed)
	assert.ErrorIs(t, store.Save(), ErrClosed)
}
