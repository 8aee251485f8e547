package jper

import "time"

// Notification is one routed notification as returned by the JPER API.
type Notification struct {
	ID          string   `json:"id"`
	CreatedDate string   `json:"created_date"`
	Links       []Link   `json:"links,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

// Link is a content link attached to a notification. Package links carry the
// packaging format identifier they were built with.
type Link struct {
	Type      string `json:"type"`
	Format    string `json:"format,omitempty"`
	URL       string `json:"url"`
	Packaging string `json:"packaging,omitempty"`
}

// Metadata is the bibliographic subset of the notification used by the
// metadata crosswalk.
type Metadata struct {
	Title           string       `json:"title,omitempty"`
	Publisher       string       `json:"publisher,omitempty"`
	Type            string       `json:"type,omitempty"`
	Language        string       `json:"language,omitempty"`
	PublicationDate string       `json:"publication_date,omitempty"`
	Identifiers     []Identifier `json:"identifier,omitempty"`
	Authors         []Author     `json:"author,omitempty"`
	Source          Source       `json:"source,omitempty"`
}

// Identifier is a typed identifier, e.g. {"type": "doi", "id": "10.1234/x"}.
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Author is a contributor entry on the notification metadata.
type Author struct {
	Name        string       `json:"name,omitempty"`
	Affiliation string       `json:"affiliation,omitempty"`
	Identifiers []Identifier `json:"identifier,omitempty"`
}

// Source describes the journal or venue the article was routed from.
type Source struct {
	Name        string       `json:"name,omitempty"`
	Identifiers []Identifier `json:"identifier,omitempty"`
}

// GetPackageLink returns the first package link matching the given packaging
// format identifier, or nil when the notification has no package in that
// format.
func (n *Notification) GetPackageLink(packaging string) *Link {
	for i := range n.Links {
		l := &n.Links[i]
		if l.Type == "package" && l.Packaging == packaging {
			return l
		}
	}
	return nil
}

// CreatedAt parses the notification's created date.
func (n *Notification) CreatedAt() (time.Time, error) {
	return time.Parse(time.RFC3339, n.CreatedDate)
}

// notificationList is the paged list envelope returned by the routed
// notifications endpoint.
type notificationList struct {
	Since         string         `json:"since"`
	Page          int            `json:"page"`
	PageSize      int            `json:"pageSize"`
	Total         int            `json:"total"`
	Notifications []Notification `json:"notifications"`
}
