package sword

import (
	"encoding/xml"
	"fmt"
)

// Response is the uniform result of a SWORD operation: either a deposit
// receipt, an error document, or neither (some repositories answer a bare
// 2xx with no body).
type Response struct {
	Code     int
	Location string
	Receipt  *Receipt
	Error    *ErrorDocument
	Body     []byte
}

// IsError reports whether the repository answered with an error document.
func (r *Response) IsError() bool {
	return r.Error != nil
}

// Receipt is a parsed deposit receipt.
type Receipt struct {
	EditIRI      string
	EditMediaIRI string
	Alternate    string
}

// ErrorDocument is a parsed sword:error response.
type ErrorDocument struct {
	Code    int
	Href    string
	Summary string
}

func (e *ErrorDocument) String() string {
	return fmt.Sprintf("sword error: status %d (error_href=%s)", e.Code, e.Href)
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

type receiptXML struct {
	XMLName xml.Name   `xml:"entry"`
	Links   []atomLink `xml:"link"`
}

type errorXML struct {
	XMLName xml.Name `xml:"error"`
	Href    string   `xml:"href,attr"`
	Summary string   `xml:"summary"`
}

// parseReceipt extracts the IRIs the engine needs from a deposit receipt
// body. Returns nil when the body is not an atom entry.
func parseReceipt(body []byte) *Receipt {
	if len(body) == 0 {
		return nil
	}

	var rx receiptXML
	if err := xml.Unmarshal(body, &rx); err != nil {
		return nil
	}

	r := &Receipt{}
	for _, l := range rx.Links {
		switch l.Rel {
		case "edit":
			r.EditIRI = l.Href
		case "edit-media":
			r.EditMediaIRI = l.Href
		case "alternate":
			r.Alternate = l.Href
		}
	}
	return r
}

// parseErrorDocument extracts the error href and summary from a sword:error
// body. The href may be absent, e.g. on a plain 500.
func parseErrorDocument(code int, body []byte) *ErrorDocument {
	doc := &ErrorDocument{Code: code}
	if len(body) == 0 {
		return doc
	}

	var ex errorXML
	if err := xml.Unmarshal(body, &ex); err != nil {
		return doc
	}

	doc.Href = ex.Href
	doc.Summary = ex.Summary
	return doc
}
