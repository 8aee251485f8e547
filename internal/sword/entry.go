package sword

import (
	"encoding/xml"
	"time"
)

const (
	atomNS    = "http://www.w3.org/2005/Atom"
	dcTermsNS = "http://purl.org/dc/terms/"
)

// Entry is an Atom entry carrying Dublin Core terms, used for the metadata
// phase of a three-phase deposit.
type Entry struct {
	Title   string
	ID      string
	Updated time.Time
	Summary string
	Authors []string
	terms   []dcTerm
}

type dcTerm struct {
	name  string
	value string
}

// AddDC appends a dcterms element, e.g. AddDC("identifier", "doi:10.1/x").
// Empty values are dropped.
func (e *Entry) AddDC(name, value string) {
	if value == "" {
		return
	}
	e.terms = append(e.terms, dcTerm{name: name, value: value})
}

type entryXML struct {
	XMLName  xml.Name        `xml:"entry"`
	XMLNS    string          `xml:"xmlns,attr"`
	XMLNSDC  string          `xml:"xmlns:dcterms,attr"`
	Title    string          `xml:"title,omitempty"`
	ID       string          `xml:"id,omitempty"`
	Updated  string          `xml:"updated,omitempty"`
	Summary  string          `xml:"summary,omitempty"`
	Authors  []entryAuthor   `xml:"author"`
	Elements []entryDCMember `xml:",any"`
}

type entryAuthor struct {
	Name string `xml:"name"`
}

type entryDCMember struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// XML serialises the entry with the atom and dcterms namespaces declared on
// the root element.
func (e *Entry) XML() ([]byte, error) {
	ex := entryXML{
		XMLNS:   atomNS,
		XMLNSDC: dcTermsNS,
		Title:   e.Title,
		ID:      e.ID,
		Summary: e.Summary,
	}

	if !e.Updated.IsZero() {
		ex.Updated = e.Updated.UTC().Format(time.RFC3339)
	}

	for _, a := range e.Authors {
		ex.Authors = append(ex.Authors, entryAuthor{Name: a})
	}

	for _, t := range e.terms {
		ex.Elements = append(ex.Elements, entryDCMember{
			XMLName: xml.Name{Local: "dcterms:" + t.name},
			Value:   t.value,
		})
	}

	out, err := xml.MarshalIndent(&ex, "", "  ")
	if err != nil {
		return nil, err
	}

	return append([]byte(xml.Header), out...), nil
}
