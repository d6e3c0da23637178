package xmlstore

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"unicode"
	"unicode/utf8"
)

// Value is either a leaf with text or a node with nested fields
type Value struct {
	text   string
	fields Fields
	node   bool
}

// Leaf returns a text value
func Leaf(text string) Value {
	return Value{text: text}
}

// Node returns a value with nested fields
func Node(fields ...Field) Value {
	return Value{fields: Fields(fields), node: true}
}

func (v Value) IsLeaf() bool {
	return !v.node
}

// Text returns the text of a leaf, "" for a node
func (v Value) Text() string {
	return v.text
}

// Fields returns the nested fields of a node, nil for a leaf
func (v Value) Fields() Fields {
	return v.fields
}

// Get descends into nested fields
func (v Value) Get(path ...string) (Value, bool) {
	for _, name := range path {
		if !v.node {
			return Value{}, false
		}
		var ok bool
		if v, ok = v.fields.Get(name); !ok {
			return Value{}, false
		}
	}
	return v, true
}

func (v Value) String() string {
	if !v.node {
		return strconv.Quote(v.text)
	}
	return fmt.Sprintf("%v", v.fields)
}

// Field is one named child of a record or node
type Field struct {
	Name  string
	Value Value
}

// Text returns a leaf field
func Text(name, text string) Field {
	return Field{Name: name, Value: Leaf(text)}
}

// Group returns a node field
func Group(name string, fields ...Field) Field {
	return Field{Name: name, Value: Node(fields...)}
}

// Fields keeps fields in document order. Names are unique, see Set.
type Fields []Field

func (fs Fields) index(name string) int {
	for i, f := range fs {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (fs Fields) Get(name string) (Value, bool) {
	if i := fs.index(name); i >= 0 {
		return fs[i].Value, true
	}
	return Value{}, false
}

// Set replaces an existing field in place or appends a new one.
// Decoding uses it for repeated sibling tags so the last one wins.
func (fs Fields) Set(name string, v Value) Fields {
	if i := fs.index(name); i >= 0 {
		fs[i].Value = v
		return fs
	}
	return append(fs, Field{Name: name, Value: v})
}

func (fs Fields) Names() []string {
	res := make([]string, len(fs))
	for i, f := range fs {
		res[i] = f.Name
	}
	return res
}

// Record is the decoded form of one record element.
// Attributes always has "id" for stored records.
type Record struct {
	Attributes map[string]string
	Fields     Fields
}

// ID returns the id attribute, 0 if missing
func (r Record) ID() int {
	id, err := strconv.Atoi(r.Attributes["id"])
	if err != nil {
		return 0
	}
	return id
}

// Get returns the text of the leaf at path
func (r Record) Get(path ...string) (string, bool) {
	v, ok := Node(r.Fields...).Get(path...)
	if !ok || !v.IsLeaf() {
		return "", false
	}
	return v.Text(), true
}

// Validate checks that all names can be written as xml tags and attributes
func (r Record) Validate() error {
	for k, v := range r.Attributes {
		if !isValidName(k) {
			return fmt.Errorf("%w: attribute '%s'", ErrInvalidName, k)
		}
		if !isValidText(v) {
			return fmt.Errorf("%w: attribute '%s' has characters not allowed in xml", ErrInvalidValue, k)
		}
	}
	return validateFields(r.Fields)
}

func validateFields(fields Fields) error {
	for _, f := range fields {
		if !isValidName(f.Name) {
			return fmt.Errorf("%w: field '%s'", ErrInvalidName, f.Name)
		}
		if !isValidText(f.Value.text) {
			return fmt.Errorf("%w: field '%s' has characters not allowed in xml", ErrInvalidValue, f.Name)
		}
		if err := validateFields(f.Value.fields); err != nil {
			return err
		}
	}
	return nil
}

// isValidText reports whether s is valid utf-8 made only of characters
// allowed in xml 1.0 documents
func isValidText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, c := range s {
		switch {
		case c == '\t' || c == '\n' || c == '\r':
		case c >= 0x20 && c <= 0xD7FF:
		case c >= 0xE000 && c <= 0xFFFD:
		case c >= 0x10000 && c <= 0x10FFFF:
		default:
			return false
		}
	}
	return true
}

// isValidName accepts xml names without namespace prefixes
func isValidName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if unicode.IsLetter(c) || c == '_' {
			continue
		}
		if i > 0 && (unicode.IsDigit(c) || c == '-' || c == '.') {
			continue
		}
		return false
	}
	return true
}

// Map returns the record as nested maps: "attributes" holds attributes,
// every other key is a field with a string or a nested map value
func (r Record) Map() map[string]any {
	m := fieldsMap(r.Fields)
	if len(r.Attributes) > 0 {
		m["attributes"] = stringsToAny(r.Attributes)
	}
	return m
}

func stringsToAny(m map[string]string) map[string]any {
	res := make(map[string]any, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}

func fieldsMap(fields Fields) map[string]any {
	m := make(map[string]any, len(fields))
	for _, f := range fields {
		if f.Value.IsLeaf() {
			m[f.Name] = f.Value.Text()
		} else {
			m[f.Name] = fieldsMap(f.Value.Fields())
		}
	}
	return m
}

// RecordFromMap is the inverse of Record.Map. Maps are unordered so fields
// are sorted by name. Numbers and booleans become their text; lists are
// rejected since repeated tags collapse into one field.
func RecordFromMap(m map[string]any) (Record, error) {
	var rec Record
	if a, ok := m["attributes"]; ok {
		am, ok := asMap(a)
		if !ok {
			return rec, fmt.Errorf("%w: attributes must be a map, got %T", ErrInvalidValue, a)
		}
		rec.Attributes = map[string]string{}
		for k, v := range am {
			s, err := scalarText(v)
			if err != nil {
				return rec, fmt.Errorf("attribute '%s': %w", k, err)
			}
			rec.Attributes[k] = s
		}
	}
	fields, err := fieldsFromMap(m, true)
	if err != nil {
		return rec, err
	}
	rec.Fields = fields
	return rec, rec.Validate()
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		return stringsToAny(m), true
	}
	return nil, false
}

func scalarText(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x), nil
	}
	return "", fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, v)
}

func fieldsFromMap(m map[string]any, top bool) (Fields, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		if top && k == "attributes" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var fields Fields
	for _, k := range keys {
		v := m[k]
		if sub, ok := asMap(v); ok {
			nested, err := fieldsFromMap(sub, false)
			if err != nil {
				return nil, err
			}
			fields = append(fields, Group(k, nested...))
			continue
		}
		s, err := scalarText(v)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", k, err)
		}
		fields = append(fields, Text(k, s))
	}
	return fields, nil
}

// Equal compares ignoring field order, which is what a round trip
// through an unordered map preserves
func (r Record) Equal(other Record) bool {
	if len(r.Attributes) != len(other.Attributes) {
		return false
	}
	for k, v := range r.Attributes {
		if ov, ok := other.Attributes[k]; !ok || ov != v {
			return false
		}
	}
	return fieldsEqual(r.Fields, other.Fields)
}

func fieldsEqual(a, b Fields) bool {
	if len(a) != len(b) {
		return false
	}
	for _, f := range a {
		v, ok := b.Get(f.Name)
		if !ok || v.node != f.Value.node || v.text != f.Value.text {
			return false
		}
		if !fieldsEqual(f.Value.fields, v.fields) {
			return false
		}
	}
	return slices.Equal(sortedNames(a), sortedNames(b))
}

func sortedNames(fs Fields) []string {
	names := fs.Names()
	sort.Strings(names)
	return names
}
