package sword

import (
	"strings"
	"testing"
	"time"
)

func TestEntryXML(t *testing.T) {
	e := &Entry{
		Title:   "An Article",
		ID:      "n1",
		Updated: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC),
		Authors: []string{"Doe, Jane"},
	}
	e.AddDC("title", "An Article")
	e.AddDC("identifier", "doi:10.1234/example")
	e.AddDC("creator", "Doe, Jane")
	e.AddDC("publisher", "") // dropped

	out, err := e.XML()
	if err != nil {
		t.Fatalf("XML: %v", err)
	}
	s := string(out)

	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`xmlns="http://www.w3.org/2005/Atom"`,
		`xmlns:dcterms="http://purl.org/dc/terms/"`,
		`<title>An Article</title>`,
		`<id>n1</id>`,
		`<updated>2025-08-01T12:00:00Z</updated>`,
		`<name>Doe, Jane</name>`,
		`<dcterms:title>An Article</dcterms:title>`,
		`<dcterms:identifier>doi:10.1234/example</dcterms:identifier>`,
		`<dcterms:creator>Doe, Jane</dcterms:creator>`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("entry xml missing %q:\n%s", want, s)
		}
	}

	if strings.Contains(s, "dcterms:publisher") {
		t.Error("empty dc terms must be dropped")
	}
}
