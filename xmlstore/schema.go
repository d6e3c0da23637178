package xmlstore

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Schema describes the layout of a document
type Schema interface {
	// BaseXML is written to a new document
	BaseXML() string
	// DataPath is the slash-separated path of the element that holds
	// the records, starting with the root element e.g. "catalog/items"
	DataPath() string
	// RecordTag is the tag of a record element e.g. "item"
	RecordTag() string
}

// SimpleSchema is a Schema for documents of the form:
//
//	<Root>
//	  <meta>
//	    <ai>1</ai>
//	    <last_add>0</last_add>
//	  </meta>
//	  <Container/>
//	</Root>
//
// Container can be a nested path e.g. "data/items".
type SimpleSchema struct {
	Root      string
	Container string
	Tag       string
}

var _ Schema = SimpleSchema{}

func (s SimpleSchema) BaseXML() string {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(s.Root)
	meta := root.CreateElement("meta")
	meta.CreateElement("ai").SetText("1")
	meta.CreateElement("last_add").SetText("0")
	el := root
	for _, name := range splitPath(s.Container) {
		el = el.CreateElement(name)
	}
	doc.Indent(2)
	str, _ := doc.WriteToString()
	return str
}

func (s SimpleSchema) DataPath() string {
	if s.Container == "" {
		return s.Root
	}
	return s.Root + "/" + s.Container
}

func (s SimpleSchema) RecordTag() string {
	return s.Tag
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// layout is the parsed, validated form of a Schema
type layout struct {
	container []string
	tag       string
	// compiled "/<container>/<tag>"
	recordsPath etree.Path
	// compiled "/<container>"
	containerPath etree.Path
}

func newLayout(s Schema) (*layout, error) {
	container := splitPath(s.DataPath())
	if len(container) == 0 {
		return nil, fmt.Errorf("%w: empty data path", ErrInvalidName)
	}
	for _, name := range container {
		if !isValidName(name) {
			return nil, fmt.Errorf("%w: '%s' in data path '%s'", ErrInvalidName, name, s.DataPath())
		}
	}
	tag := s.RecordTag()
	if !isValidName(tag) {
		return nil, fmt.Errorf("%w: record tag '%s'", ErrInvalidName, tag)
	}
	if tag == "meta" {
		return nil, fmt.Errorf("%w: 'meta' is reserved", ErrInvalidName)
	}
	l := &layout{
		container: container,
		tag:       tag,
	}
	var err error
	if l.containerPath, err = etree.CompilePath(l.containerQuery()); err != nil {
		return nil, err
	}
	if l.recordsPath, err = etree.CompilePath(l.recordsQuery()); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *layout) containerQuery() string {
	return "/" + strings.Join(l.container, "/")
}

func (l *layout) recordsQuery() string {
	return l.containerQuery() + "/" + l.tag
}

// byIDPath selects the record with a given id
func (l *layout) byIDPath(id int) (etree.Path, error) {
	return etree.CompilePath(fmt.Sprintf("%s[@id='%d']", l.recordsQuery(), id))
}

// fieldPath selects field elements of all records. Names must be validated.
func (l *layout) fieldPath(names []string) (etree.Path, error) {
	return etree.CompilePath(l.recordsQuery() + "/" + strings.Join(names, "/"))
}
