package xmlstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/beevik/etree"
)

func newDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.ReadSettings.PreserveCData = true
	// parsers turn a literal \r into \n, character references survive
	doc.WriteSettings.CanonicalText = true
	doc.WriteSettings.CanonicalAttrVal = true
	return doc
}

// parseDocument parses data and drops whitespace between elements so
// that string values don't depend on how the file was indented
func parseDocument(data []byte) (*etree.Document, error) {
	doc := newDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	stripBlanks(&doc.Element)
	return doc, nil
}

// stripBlanks removes whitespace-only text from elements that have child
// elements. Leaf text is kept as is.
func stripBlanks(e *etree.Element) {
	hasElements := false
	for _, t := range e.Child {
		if ce, ok := t.(*etree.Element); ok {
			hasElements = true
			stripBlanks(ce)
		}
	}
	if !hasElements {
		return
	}
	for i := len(e.Child) - 1; i >= 0; i-- {
		if cd, ok := e.Child[i].(*etree.CharData); ok && cd.IsWhitespace() {
			e.RemoveChildAt(i)
		}
	}
}

func indentDocument(doc *etree.Document) {
	s := etree.NewIndentSettings()
	s.Spaces = 2
	s.PreserveLeafWhitespace = true
	doc.IndentWithSettings(s)
}

// Normalize re-parses an xml document and writes it back with canonical
// indentation. Save runs every document through it.
func Normalize(data []byte) ([]byte, error) {
	doc, err := parseDocument(data)
	if err != nil {
		return nil, err
	}
	indentDocument(doc)
	return doc.WriteToBytes()
}

// stringValue is the text of e and all its descendants, in document order
func stringValue(e *etree.Element) string {
	var sb strings.Builder
	var walk func(e *etree.Element)
	walk = func(e *etree.Element) {
		for _, t := range e.Child {
			switch v := t.(type) {
			case *etree.CharData:
				sb.WriteString(v.Data)
			case *etree.Element:
				walk(v)
			}
		}
	}
	walk(e)
	return sb.String()
}

// Decode converts an element into a Record. Attributes are only captured
// when the element is a record i.e. e.Tag is recordTag.
// A child without child elements becomes a leaf with its text, otherwise
// it becomes a node. Repeated child tags collapse into one field and the
// last one wins.
func Decode(e *etree.Element, recordTag string) Record {
	var rec Record
	if e.Tag == recordTag && len(e.Attr) > 0 {
		rec.Attributes = make(map[string]string, len(e.Attr))
		for _, a := range e.Attr {
			rec.Attributes[a.FullKey()] = a.Value
		}
	}
	rec.Fields = decodeFields(e)
	return rec
}

func decodeFields(e *etree.Element) Fields {
	var fields Fields
	for _, c := range e.ChildElements() {
		sub := decodeFields(c)
		if len(sub) == 0 {
			fields = fields.Set(c.Tag, Leaf(stringValue(c)))
		} else {
			fields = fields.Set(c.Tag, Node(sub...))
		}
	}
	return fields
}

// EncodeFields appends one child element per field to parent.
// Leaves become a text node, nodes recurse.
func EncodeFields(parent *etree.Element, fields Fields) {
	for _, f := range fields {
		el := parent.CreateElement(f.Name)
		if f.Value.IsLeaf() {
			if t := f.Value.Text(); t != "" {
				el.CreateText(t)
			}
			continue
		}
		EncodeFields(el, f.Value.Fields())
	}
}

// EncodeRecord appends a tag element with rec's attributes and fields to
// parent. The id attribute goes first, the others are sorted by name.
func EncodeRecord(parent *etree.Element, tag string, rec Record) *etree.Element {
	el := parent.CreateElement(tag)
	encodeAttributes(el, rec.Attributes)
	EncodeFields(el, rec.Fields)
	return el
}

func encodeAttributes(el *etree.Element, attrs map[string]string) {
	names := make([]string, 0, len(attrs))
	for k := range attrs {
		if k != "id" {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	if id, ok := attrs["id"]; ok {
		el.CreateAttr("id", id)
	}
	for _, k := range names {
		el.CreateAttr(k, attrs[k])
	}
}

// Descriptor describes one element for EncodeComplex
type Descriptor struct {
	Name string
	// written as an xml comment before the element
	Comment string
	// nil means no text. Text with '<' or '>' is written as CDATA.
	Value *string
	// encoded with EncodeFields
	Children Fields
}

// Describe returns a Descriptor with text
func Describe(name, value, comment string) Descriptor {
	return Descriptor{Name: name, Value: &value, Comment: comment}
}

func validateDescriptors(ds []Descriptor) error {
	for _, d := range ds {
		if !isValidName(d.Name) {
			return fmt.Errorf("%w: field '%s'", ErrInvalidName, d.Name)
		}
		if strings.Contains(d.Comment, "--") || strings.HasSuffix(d.Comment, "-") ||
			strings.Contains(d.Comment, "\r") || !isValidText(d.Comment) {
			return fmt.Errorf("%w: '%s'", ErrInvalidComment, d.Comment)
		}
		if d.Value != nil && !isValidText(*d.Value) {
			return fmt.Errorf("%w: field '%s' has characters not allowed in xml", ErrInvalidValue, d.Name)
		}
		if err := validateFields(d.Children); err != nil {
			return err
		}
	}
	return nil
}

func needsCData(s string) bool {
	// CDATA can't contain its own terminator or keep a \r, escaped text is safe for anything
	return strings.ContainsAny(s, "<>") && !strings.Contains(s, "\r") && !strings.Contains(s, "]]>")
}

// EncodeComplex appends elements described by ds to parent. The element
// is only added when it has a value or children, a lone comment is kept.
func EncodeComplex(parent *etree.Element, ds []Descriptor) {
	for _, d := range ds {
		el := etree.NewElement(d.Name)
		if d.Comment != "" {
			parent.CreateComment(d.Comment)
		}
		if d.Value != nil {
			if needsCData(*d.Value) {
				el.CreateCData(*d.Value)
			} else {
				el.CreateText(*d.Value)
			}
		}
		if d.Children != nil {
			EncodeFields(el, d.Children)
		}
		if d.Value != nil || d.Children != nil {
			parent.AddChild(el)
		}
	}
}
