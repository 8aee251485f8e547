package sword

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const entryContentType = "application/atom+xml;type=entry"

// Connection performs SWORDv2 operations against one repository using basic
// auth. Error documents are returned as values on the Response, never as Go
// errors; Go errors mean the transport itself failed.
type Connection struct {
	username   string
	password   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewConnection creates a connection with the account's sword credentials.
func NewConnection(username, password string, logger *zap.Logger) *Connection {
	return &Connection{
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // package uploads can be large
		},
		logger: logger,
	}
}

// CreateRequest describes a deposit into a collection: either a binary
// Payload or a metadata Entry, never both.
type CreateRequest struct {
	CollectionIRI string
	Payload       io.Reader
	Filename      string
	MimeType      string
	Packaging     string
	Entry         *Entry
	InProgress    bool
}

// Create deposits into the collection. With a Payload this is an atomic
// package deposit; with an Entry it is the metadata phase of a three-phase
// deposit.
func (c *Connection) Create(ctx context.Context, req CreateRequest) (*Response, error) {
	var body io.Reader
	headers := http.Header{}

	switch {
	case req.Entry != nil:
		entry, err := req.Entry.XML()
		if err != nil {
			return nil, fmt.Errorf("serialise atom entry: %w", err)
		}
		body = bytes.NewReader(entry)
		headers.Set("Content-Type", entryContentType)
	case req.Payload != nil:
		body = req.Payload
		headers.Set("Content-Type", req.MimeType)
		headers.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", req.Filename))
		if req.Packaging != "" {
			headers.Set("Packaging", req.Packaging)
		}
	default:
		return nil, fmt.Errorf("create request carries neither payload nor entry")
	}

	if req.InProgress {
		headers.Set("In-Progress", "true")
	} else {
		headers.Set("In-Progress", "false")
	}

	return c.do(ctx, http.MethodPost, req.CollectionIRI, body, headers)
}

// AddFileToResource adds a single file to the media resource (POST to the
// edit-media IRI), leaving existing files in place.
func (c *Connection) AddFileToResource(ctx context.Context, editMediaIRI string, file io.Reader, filename, mimetype, packaging string) (*Response, error) {
	headers := http.Header{}
	headers.Set("Content-Type", mimetype)
	headers.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	if packaging != "" {
		headers.Set("Packaging", packaging)
	}

	return c.do(ctx, http.MethodPost, editMediaIRI, file, headers)
}

// UpdateFilesForResource replaces the media resource's files with the given
// package (PUT to the edit-media IRI from the receipt).
func (c *Connection) UpdateFilesForResource(ctx context.Context, file io.Reader, filename, mimetype, packaging string, receipt *Receipt) (*Response, error) {
	headers := http.Header{}
	headers.Set("Content-Type", mimetype)
	headers.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	if packaging != "" {
		headers.Set("Packaging", packaging)
	}

	return c.do(ctx, http.MethodPut, receipt.EditMediaIRI, file, headers)
}

// CompleteDeposit tells the repository that no further files are coming
// (POST to the edit IRI with In-Progress: false).
func (c *Connection) CompleteDeposit(ctx context.Context, receipt *Receipt) (*Response, error) {
	headers := http.Header{}
	headers.Set("In-Progress", "false")

	return c.do(ctx, http.MethodPost, receipt.EditIRI, nil, headers)
}

// GetDepositReceipt fetches the deposit receipt explicitly, for repositories
// that answer a create with an empty body.
func (c *Connection) GetDepositReceipt(ctx context.Context, editIRI string) (*Response, error) {
	return c.do(ctx, http.MethodGet, editIRI, nil, http.Header{})
}

func (c *Connection) do(ctx context.Context, method, url string, body io.Reader, headers http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build sword request: %w", err)
	}

	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sword %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	// receipts and error documents are both small
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read sword response: %w", err)
	}

	out := &Response{
		Code:     resp.StatusCode,
		Location: resp.Header.Get("Location"),
		Body:     raw,
	}

	if resp.StatusCode >= 400 {
		out.Error = parseErrorDocument(resp.StatusCode, raw)
		c.logger.Warn("sword error document received",
			zap.Int("status", resp.StatusCode),
			zap.String("error_href", out.Error.Href),
			zap.String("url", url),
		)
		return out, nil
	}

	out.Receipt = parseReceipt(raw)
	if out.Receipt != nil && out.Receipt.EditIRI == "" && out.Location != "" {
		out.Receipt.EditIRI = out.Location
	}
	return out, nil
}
