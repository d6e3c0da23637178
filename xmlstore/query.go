package xmlstore

import (
	"fmt"
	"iter"

	"github.com/beevik/etree"
)

// FindByID returns the record with the given id. It searches the tree so
// records added since the last Save are found too.
func (s *Store) FindByID(id int) (Record, bool) {
	if s.closed {
		return Record{}, false
	}
	p, err := s.layout.byIDPath(id)
	if err != nil {
		return Record{}, false
	}
	e := s.doc.FindElementPath(p)
	if e == nil {
		return Record{}, false
	}
	return Decode(e, s.layout.tag), true
}

// FindByField is FindBy with a slash-separated field path e.g. "address/city"
func (s *Store) FindByField(field string, value string) (*Model, bool, error) {
	return s.FindBy(splitPath(field), value)
}

// FindBy returns records with a field at fieldPath whose text equals
// value. The text of a field with nested elements is the text of all of
// them concatenated. Comparison is exact and case-sensitive.
func (s *Store) FindBy(fieldPath []string, value string) (*Model, bool, error) {
	if s.closed {
		return nil, false, ErrClosed
	}
	if len(fieldPath) == 0 {
		return nil, false, fmt.Errorf("%w: empty field path", ErrInvalidName)
	}
	for _, name := range fieldPath {
		if !isValidName(name) {
			return nil, false, fmt.Errorf("%w: field '%s'", ErrInvalidName, name)
		}
	}
	p, err := s.layout.fieldPath(fieldPath)
	if err != nil {
		return nil, false, err
	}
	containerPath := s.layout.containerQuery()
	var found []*etree.Element
	seen := map[*etree.Element]bool{}
	for _, e := range s.doc.FindElementsPath(p) {
		if stringValue(e) != value {
			continue
		}
		rec := e
		for range fieldPath {
			if rec = rec.Parent(); rec == nil {
				break
			}
		}
		if rec == nil || rec.Tag != s.layout.tag || rec.Parent() == nil || rec.Parent().GetPath() != containerPath {
			return nil, false, fmt.Errorf("%w: match at '%s'", ErrNoParent, e.GetPath())
		}
		if seen[rec] {
			continue
		}
		seen[rec] = true
		found = append(found, rec)
	}
	if len(found) == 0 {
		return nil, false, nil
	}
	return &Model{store: s, elems: found, pos: -1}, true, nil
}

// Model is the result of FindBy. Records are decoded when accessed.
type Model struct {
	store *Store
	elems []*etree.Element
	pos   int
	cur   Record
}

// Len returns the number of matching records
func (m *Model) Len() int {
	return len(m.elems)
}

// Next advances to the next record
func (m *Model) Next() bool {
	if m.pos+1 >= len(m.elems) {
		m.pos = len(m.elems)
		m.cur = Record{}
		return false
	}
	m.pos++
	m.cur = Decode(m.elems[m.pos], m.store.layout.tag)
	return true
}

// Current returns the record Next advanced to
func (m *Model) Current() Record {
	return m.cur
}

func (m *Model) Rewind() {
	m.pos = -1
	m.cur = Record{}
}

// All rewinds and yields every record
func (m *Model) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		m.Rewind()
		for m.Next() {
			if !yield(m.Current()) {
				return
			}
		}
	}
}

// Records decodes all records
func (m *Model) Records() []Record {
	res := make([]Record, 0, len(m.elems))
	for _, e := range m.elems {
		res = append(res, Decode(e, m.store.layout.tag))
	}
	return res
}

// Store returns the store the model was found in
func (m *Model) Store() *Store {
	return m.store
}
