package xmlstore

import (
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// Meta is the bookkeeping kept in <root>/meta
type Meta struct {
	// NextID is the id the next added record gets (the ai element)
	NextID int
	// LastAdd is the time of the last insert (unix seconds in last_add)
	LastAdd time.Time
}

// metaFromRecord reads ai and last_add. ok is false if ai is missing or
// not a positive integer.
func metaFromRecord(rec Record) (m Meta, ok bool) {
	if s, found := rec.Get("last_add"); found {
		if secs, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil && secs > 0 {
			m.LastAdd = time.Unix(secs, 0)
		}
	}
	s, found := rec.Get("ai")
	if !found {
		return m, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return m, false
	}
	m.NextID = n
	return m, true
}

// maxID is the largest id of the records in doc, 0 if there are none
func maxID(doc *etree.Document, l *layout) int {
	res := 0
	for _, e := range doc.FindElementsPath(l.recordsPath) {
		id, err := strconv.Atoi(e.SelectAttrValue("id", ""))
		if err == nil && id > res {
			res = id
		}
	}
	return res
}

// reconcileMeta keeps NextID above every id in the document
func reconcileMeta(m Meta, hasAI bool, highest int, logf func(string, ...any)) Meta {
	switch {
	case !hasAI:
		logf("xmlstore: meta/ai is missing or invalid, using %d\n", highest+1)
		m.NextID = highest + 1
	case m.NextID <= highest:
		logf("xmlstore: meta/ai is %d but the largest id is %d, using %d\n", m.NextID, highest, highest+1)
		m.NextID = highest + 1
	}
	return m
}

// setMeta writes m into the meta element, creating ai and last_add if needed
func setMeta(doc *etree.Document, m Meta) error {
	root := doc.Root()
	if root == nil {
		return ErrNoMeta
	}
	meta := root.SelectElement("meta")
	if meta == nil {
		return ErrNoMeta
	}
	setChildText(meta, "ai", strconv.Itoa(m.NextID))
	var lastAdd int64
	if !m.LastAdd.IsZero() {
		lastAdd = m.LastAdd.Unix()
	}
	setChildText(meta, "last_add", strconv.FormatInt(lastAdd, 10))
	return nil
}

func setChildText(parent *etree.Element, tag, text string) {
	el := parent.SelectElement(tag)
	if el == nil {
		el = parent.CreateElement(tag)
	}
	el.SetText(text)
}
