// Package xwalk maps JPER notification metadata onto the Atom/Dublin Core
// entry used for SWORD metadata deposits.
package xwalk

import (
	"time"

	"github.com/deepgreen/swordout/internal/jper"
	"github.com/deepgreen/swordout/internal/sword"
)

// ToEntry builds the deposit entry for a notification.
func ToEntry(note *jper.Notification) *sword.Entry {
	md := note.Metadata

	entry := &sword.Entry{
		Title:   md.Title,
		ID:      note.ID,
		Updated: time.Now(),
	}

	entry.AddDC("title", md.Title)
	entry.AddDC("publisher", md.Publisher)
	entry.AddDC("type", md.Type)
	entry.AddDC("language", md.Language)
	entry.AddDC("issued", md.PublicationDate)
	entry.AddDC("source", md.Source.Name)

	for _, ident := range md.Identifiers {
		if ident.ID == "" {
			continue
		}
		if ident.Type != "" {
			entry.AddDC("identifier", ident.Type+":"+ident.ID)
		} else {
			entry.AddDC("identifier", ident.ID)
		}
	}

	for _, ident := range md.Source.Identifiers {
		if ident.Type == "issn" || ident.Type == "eissn" {
			entry.AddDC("isPartOf", ident.Type+":"+ident.ID)
		}
	}

	for _, a := range md.Authors {
		if a.Name == "" {
			continue
		}
		entry.Authors = append(entry.Authors, a.Name)
		entry.AddDC("creator", a.Name)
	}

	return entry
}
