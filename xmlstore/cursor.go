package xmlstore

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
)

// tapReader remembers what the decoder read so that the exact text of an
// element can be sliced out by decoder offsets. Bytes before the current
// token are released so memory is bounded by one record plus read-ahead.
type tapReader struct {
	r    io.Reader
	buf  []byte
	base int64 // stream offset of buf[0]
}

func (t *tapReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.buf = append(t.buf, p[:n]...)
	return n, err
}

func (t *tapReader) release(off int64) {
	n := int(off - t.base)
	if n <= 0 {
		return
	}
	n = min(n, len(t.buf))
	t.buf = append(t.buf[:0], t.buf[n:]...)
	t.base += int64(n)
}

func (t *tapReader) slice(from, to int64) []byte {
	return slices.Clone(t.buf[from-t.base : to-t.base])
}

type cursorState int

const (
	cursorNotStarted cursorState = iota
	cursorPositioned
	cursorExhausted
)

// cursor is a forward-only reader over the records of a document.
// It never sees changes made to the tree, Store.Reopen creates a new one.
type cursor struct {
	src       io.ReadSeekCloser
	tap       *tapReader
	dec       *xml.Decoder
	state     cursorState
	container []string
	tag       string
	cur       Record
	err       error
}

func newCursor(src io.ReadSeekCloser, container []string, tag string) (*cursor, error) {
	c := &cursor{
		src:       src,
		container: container,
		tag:       tag,
	}
	if err := c.rewind(); err != nil {
		return nil, err
	}
	return c, nil
}

// failedCursor is exhausted and reports err
func failedCursor(err error) *cursor {
	return &cursor{state: cursorExhausted, err: err}
}

func (c *cursor) rewind() error {
	if c.src == nil {
		if c.err != nil {
			return c.err
		}
		return errCursorClosed
	}
	if _, err := c.src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind: %w", err)
	}
	c.tap = &tapReader{r: c.src}
	c.dec = xml.NewDecoder(c.tap)
	c.state = cursorNotStarted
	c.cur = Record{}
	c.err = nil
	return nil
}

func (c *cursor) close() error {
	if c == nil || c.src == nil {
		return nil
	}
	err := c.src.Close()
	c.src = nil
	c.state = cursorExhausted
	return err
}

// token returns the next token and the offset where it starts
func (c *cursor) token() (xml.Token, int64, error) {
	off := c.dec.InputOffset()
	c.tap.release(off)
	tok, err := c.dec.Token()
	return tok, off, err
}

// capture skips to the end of the element that started at off and
// decodes its text on its own
func (c *cursor) capture(off int64) (Record, error) {
	if err := c.dec.Skip(); err != nil {
		return Record{}, err
	}
	frag := c.tap.slice(off, c.dec.InputOffset())
	doc, err := parseDocument(frag)
	if err != nil {
		return Record{}, err
	}
	root := doc.Root()
	if root == nil {
		return Record{}, fmt.Errorf("empty element at offset %d", off)
	}
	return Decode(root, c.tag), nil
}

func isPrefix(prefix, path []string) bool {
	return len(prefix) <= len(path) && slices.Equal(prefix, path[:len(prefix)])
}

// seekContainer advances to just after the container start tag.
// Returns false if the document ends first.
func (c *cursor) seekContainer() (bool, error) {
	var stack []string
	for {
		tok, _, err := c.token()
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			if slices.Equal(stack, c.container) {
				return true, nil
			}
			if !isPrefix(stack, c.container) {
				// can't contain the container
				if err = c.dec.Skip(); err != nil {
					return false, err
				}
				stack = stack[:len(stack)-1]
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
}

// nextSibling finds the next sibling element named tag and decodes it.
// Returns false at the end of the parent element.
func (c *cursor) nextSibling(tag string) (Record, bool, error) {
	for {
		tok, off, err := c.token()
		if err == io.EOF {
			return Record{}, false, nil
		}
		if err != nil {
			return Record{}, false, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != tag {
				if err = c.dec.Skip(); err != nil {
					return Record{}, false, err
				}
				continue
			}
			rec, err := c.capture(off)
			if err != nil {
				return Record{}, false, err
			}
			return rec, true, nil
		case xml.EndElement:
			return Record{}, false, nil
		}
	}
}

func (c *cursor) fail(err error) bool {
	c.err = err
	c.state = cursorExhausted
	c.cur = Record{}
	return false
}

// next advances to the next record. Once it returned false it keeps
// returning false until rewind.
func (c *cursor) next() bool {
	switch c.state {
	case cursorExhausted:
		return false
	case cursorNotStarted:
		found, err := c.seekContainer()
		if err != nil {
			return c.fail(err)
		}
		if !found {
			return c.fail(nil)
		}
		c.state = cursorPositioned
	}
	rec, ok, err := c.nextSibling(c.tag)
	if err != nil || !ok {
		return c.fail(err)
	}
	c.cur = rec
	return true
}

// readMeta decodes the meta element, a direct child of the root element
func (c *cursor) readMeta() (Record, error) {
	// enter the root element
	for {
		tok, _, err := c.token()
		if err == io.EOF {
			return Record{}, ErrNoMeta
		}
		if err != nil {
			return Record{}, err
		}
		if _, ok := tok.(xml.StartElement); ok {
			break
		}
	}
	meta, ok, err := c.nextSibling("meta")
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrNoMeta
	}
	return meta, nil
}

var errCursorClosed = errors.New("cursor is closed")
