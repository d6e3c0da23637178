package xmlstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"maps"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/dustin/go-humanize"

	"github.com/kjk/xmlstore/log"
	"github.com/kjk/xmlstore/storage"
)

type Config struct {
	// base directory for the document, used when Backend is nil.
	// For current directory, use "."
	Dir string
	// path of the document, relative to Dir or Backend
	Path string
	// if true, a missing document is created from Schema.BaseXML()
	Create bool
	Schema Schema
	// if nil, storage.NewDir(Dir) is used
	Backend storage.Backend

	// defaults to time.Now, used for meta/last_add
	Now func() time.Time
	// defaults to log.Verbosef
	Logf func(format string, args ...any)
}

// Store is a record store backed by a single xml document.
//
// Iteration (Next, Current, All) streams the document as it was when the
// store was opened or reopened. Lookups and Add use an in-memory tree that
// is written back by Save.
//
// A Store is not safe for concurrent use.
type Store struct {
	backend storage.Backend
	path    string
	layout  *layout
	now     func() time.Time
	logf    func(format string, args ...any)

	doc    *etree.Document
	cur    *cursor
	meta   Meta
	dirty  bool
	closed bool
}

// Open opens the document described by config
func Open(config *Config) (*Store, error) {
	if config == nil {
		return nil, errors.New("config is nil")
	}
	if config.Path == "" {
		return nil, errors.New("config.Path is not set")
	}
	if config.Schema == nil {
		return nil, errors.New("config.Schema is not set")
	}
	l, err := newLayout(config.Schema)
	if err != nil {
		return nil, err
	}
	s := &Store{
		backend: config.Backend,
		path:    config.Path,
		layout:  l,
		now:     config.Now,
		logf:    config.Logf,
	}
	if s.backend == nil {
		d, err := storage.NewDir(config.Dir)
		if err != nil {
			return nil, err
		}
		s.backend = d
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logf == nil {
		s.logf = log.Verbosef
	}

	exists, err := s.backend.Exists(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to check '%s': %w", s.path, err)
	}
	if !exists {
		if !config.Create {
			return nil, fmt.Errorf("%w: '%s'", ErrFileNotFound, s.path)
		}
		if err = s.create(config.Schema); err != nil {
			return nil, err
		}
	}
	if err = s.open(); err != nil {
		return nil, err
	}
	log.Event("xmlstore.open", "path", s.path, "next_id", s.meta.NextID, "created", !exists)
	return s, nil
}

func (s *Store) create(schema Schema) error {
	d, err := Normalize([]byte(schema.BaseXML()))
	if err != nil {
		return fmt.Errorf("invalid base xml: %w", err)
	}
	if err = s.backend.WriteFile(s.path, d); err != nil {
		return fmt.Errorf("failed to create '%s': %w", s.path, err)
	}
	s.logf("xmlstore: created '%s'\n", s.path)
	return nil
}

func (s *Store) openSource() (io.ReadSeekCloser, error) {
	src, err := s.backend.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: '%s'", ErrFileNotFound, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", s.path, err)
	}
	return src, nil
}

// primeCursor reads the meta section through a new cursor and rewinds it
func (s *Store) primeCursor(src io.ReadSeekCloser) (*cursor, Record, error) {
	cur, err := newCursor(src, s.layout.container, s.layout.tag)
	if err != nil {
		src.Close()
		return nil, Record{}, err
	}
	meta, err := cur.readMeta()
	if err == nil {
		err = cur.rewind()
	}
	if err != nil {
		cur.close()
		return nil, Record{}, fmt.Errorf("'%s': %w", s.path, err)
	}
	return cur, meta, nil
}

// open loads the tree and the cursor from the same reader
func (s *Store) open() error {
	src, err := s.openSource()
	if err != nil {
		return err
	}
	data, err := io.ReadAll(src)
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to read '%s': %w", s.path, err)
	}
	doc, err := parseDocument(data)
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to parse '%s': %w", s.path, err)
	}
	cur, rec, err := s.primeCursor(src)
	if err != nil {
		return err
	}
	m, hasAI := metaFromRecord(rec)
	s.meta = reconcileMeta(m, hasAI, maxID(doc, s.layout), s.logf)
	s.doc = doc
	s.cur = cur
	return nil
}

// Reopen re-reads the document for iteration, e.g. to see records
// written by Save. Unsaved records stay in the tree and keep their ids.
func (s *Store) Reopen() error {
	if s.closed {
		return ErrClosed
	}
	errClose := s.cur.close()
	src, err := s.openSource()
	if err != nil {
		s.cur = failedCursor(err)
		return errors.Join(errClose, err)
	}
	cur, rec, err := s.primeCursor(src)
	if err != nil {
		s.cur = failedCursor(err)
		return errors.Join(errClose, err)
	}
	s.cur = cur
	if m, ok := metaFromRecord(rec); ok {
		s.meta.NextID = max(s.meta.NextID, m.NextID)
		if m.LastAdd.After(s.meta.LastAdd) {
			s.meta.LastAdd = m.LastAdd
		}
	}
	return errClose
}

func (s *Store) containerElement() (*etree.Element, error) {
	el := s.doc.FindElementPath(s.layout.containerPath)
	if el == nil {
		return nil, fmt.Errorf("%w: '%s' in '%s'", ErrNoContainer, s.layout.containerQuery(), s.path)
	}
	return el, nil
}

func (s *Store) nextRecordAttrs(attrs map[string]string) (map[string]string, int) {
	res := maps.Clone(attrs)
	if res == nil {
		res = map[string]string{}
	}
	id := s.meta.NextID
	res["id"] = strconv.Itoa(id)
	return res, id
}

func (s *Store) added() error {
	s.meta.NextID++
	s.meta.LastAdd = s.now()
	s.dirty = true
	return setMeta(s.doc, s.meta)
}

// Add appends rec to the container and returns its id. The caller's
// attributes are copied, an id attribute is replaced.
// The record is written by Save.
func (s *Store) Add(rec Record) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	container, err := s.containerElement()
	if err != nil {
		return 0, err
	}
	attrs, id := s.nextRecordAttrs(rec.Attributes)
	EncodeRecord(container, s.layout.tag, Record{Attributes: attrs, Fields: rec.Fields})
	return id, s.added()
}

// AddComplex is like Add but encodes fields with EncodeComplex
func (s *Store) AddComplex(attrs map[string]string, ds []Descriptor) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if err := (Record{Attributes: attrs}).Validate(); err != nil {
		return 0, err
	}
	if err := validateDescriptors(ds); err != nil {
		return 0, err
	}
	container, err := s.containerElement()
	if err != nil {
		return 0, err
	}
	attrs, id := s.nextRecordAttrs(attrs)
	el := container.CreateElement(s.layout.tag)
	encodeAttributes(el, attrs)
	EncodeComplex(el, ds)
	return id, s.added()
}

// Save writes the tree if it was modified since the last Save
func (s *Store) Save() error {
	if s.closed {
		return ErrClosed
	}
	if !s.dirty {
		return nil
	}
	start := time.Now()
	d, err := s.doc.WriteToBytes()
	if err != nil {
		return err
	}
	d, err = Normalize(d)
	if err != nil {
		return fmt.Errorf("failed to normalize '%s': %w", s.path, err)
	}
	if err = s.backend.WriteFile(s.path, d); err != nil {
		return fmt.Errorf("failed to write '%s': %w", s.path, err)
	}
	s.dirty = false
	s.logf("xmlstore: saved '%s', %s\n", s.path, humanize.Bytes(uint64(len(d))))
	log.EventWithDuration("xmlstore.save", time.Since(start), "path", s.path, "size", len(d), "next_id", s.meta.NextID)
	return nil
}

// Close saves and releases the document. Calling Close again is a no-op.
// When Save fails the store stays open and Close can be retried.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	if err := s.Save(); err != nil {
		return err
	}
	return s.release()
}

func (s *Store) release() error {
	s.closed = true
	return s.cur.close()
}

// With opens a store, calls fn and closes the store even if fn panics.
// Records that could not be saved are dropped.
func With(config *Config, fn func(s *Store) error) (err error) {
	s, err := Open(config)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			log.IfErrf(cerr, "xmlstore: dropped unsaved records of '%s': %v", s.path, cerr)
			err = errors.Join(err, cerr, s.release())
		}
	}()
	return fn(s)
}

// Rewind restarts iteration from the first record
func (s *Store) Rewind() error {
	if s.closed {
		return ErrClosed
	}
	return s.cur.rewind()
}

// Next advances to the next record. It returns false at the end or on
// error, see Err.
func (s *Store) Next() bool {
	if s.closed {
		return false
	}
	return s.cur.next()
}

// Current returns the record Next advanced to
func (s *Store) Current() Record {
	if s.closed {
		return Record{}
	}
	return s.cur.cur
}

// Err returns the error that stopped iteration. The end of records is
// not an error.
func (s *Store) Err() error {
	return s.cur.err
}

// All rewinds and yields every record. Check Err afterwards.
func (s *Store) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		if err := s.Rewind(); err != nil {
			return
		}
		for s.Next() {
			if !yield(s.Current()) {
				return
			}
		}
	}
}

func (s *Store) Meta() Meta {
	return s.meta
}

// Dirty reports if there are changes not written by Save
func (s *Store) Dirty() bool {
	return s.dirty
}

func (s *Store) Path() string {
	return s.path
}
