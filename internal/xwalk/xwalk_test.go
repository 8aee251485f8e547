package xwalk

import (
	"strings"
	"testing"

	"github.com/deepgreen/swordout/internal/jper"
)

func TestToEntry(t *testing.T) {
	note := &jper.Notification{
		ID: "n1",
		Metadata: jper.Metadata{
			Title:           "An Article",
			Publisher:       "Example Press",
			Type:            "article",
			Language:        "eng",
			PublicationDate: "2025-06-01",
			Identifiers: []jper.Identifier{
				{Type: "doi", ID: "10.1234/example"},
				{ID: "bare-identifier"},
				{Type: "doi", ID: ""}, // dropped
			},
			Authors: []jper.Author{
				{Name: "Doe, Jane"},
				{Affiliation: "nameless"}, // dropped
			},
			Source: jper.Source{
				Name: "Journal of Examples",
				Identifiers: []jper.Identifier{
					{Type: "issn", ID: "1234-5678"},
					{Type: "eissn", ID: "8765-4321"},
					{Type: "doi", ID: "10.9/journal"}, // not an isPartOf
				},
			},
		},
	}

	entry := ToEntry(note)

	if entry.Title != "An Article" || entry.ID != "n1" {
		t.Errorf("entry title=%q id=%q", entry.Title, entry.ID)
	}
	if len(entry.Authors) != 1 || entry.Authors[0] != "Doe, Jane" {
		t.Errorf("authors = %v", entry.Authors)
	}

	out, err := entry.XML()
	if err != nil {
		t.Fatalf("XML: %v", err)
	}
	s := string(out)

	for _, want := range []string{
		"<dcterms:title>An Article</dcterms:title>",
		"<dcterms:publisher>Example Press</dcterms:publisher>",
		"<dcterms:type>article</dcterms:type>",
		"<dcterms:language>eng</dcterms:language>",
		"<dcterms:issued>2025-06-01</dcterms:issued>",
		"<dcterms:source>Journal of Examples</dcterms:source>",
		"<dcterms:identifier>doi:10.1234/example</dcterms:identifier>",
		"<dcterms:identifier>bare-identifier</dcterms:identifier>",
		"<dcterms:isPartOf>issn:1234-5678</dcterms:isPartOf>",
		"<dcterms:isPartOf>eissn:8765-4321</dcterms:isPartOf>",
		"<dcterms:creator>Doe, Jane</dcterms:creator>",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("entry xml missing %q", want)
		}
	}

	if strings.Contains(s, "10.9/journal") && strings.Contains(s, "isPartOf>doi") {
		t.Error("journal dois must not become isPartOf terms")
	}
}
