/*
Package xmlstore is a record store that keeps records as elements of a
single xml document:

	<catalog>
	  <meta>
	    <ai>3</ai>
	    <last_add>1735689600</last_add>
	  </meta>
	  <items>
	    <item id="1">
	      <city>Berlin</city>
	    </item>
	    <item id="2">
	      <city>Paris</city>
	    </item>
	  </items>
	</catalog>

meta/ai is the id of the next record. Ids are assigned by Add and never reused.

A Store has two views of the document. Iteration streams the document
with a forward-only cursor and doesn't see unsaved records. FindByID, FindBy
and Add work on an in-memory tree. Save writes the tree, Reopen points
the cursor at what was saved.

	err := xmlstore.With(&xmlstore.Config{
		Dir:    "data",
		Path:   "catalog.xml",
		Create: true,
		Schema: xmlstore.SimpleSchema{Root: "catalog", Container: "items", Tag: "item"},
	}, func(s *xmlstore.Store) error {
		_, err := s.Add(xmlstore.Record{Fields: xmlstore.Fields{xmlstore.Text("city", "Berlin")}})
		return err
	})
*/
package xmlstore
