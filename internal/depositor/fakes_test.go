package depositor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/deepgreen/swordout/internal/db"
	"github.com/deepgreen/swordout/internal/jper"
	"github.com/deepgreen/swordout/internal/sword"
	"github.com/deepgreen/swordout/internal/tmpstore"
)

const (
	opusPackaging    = "http://purl.org/net/sword/package/OPUS4Zip"
	escidocZip       = "http://purl.org/net/sword/package/EscidocZip"
	jatsPackaging    = "https://datahub.deepgreen.org/FilesAndJATS"
	softInvalidHref  = "http://www.opus-repository.org/error/InvalidXml"
	softTooLargeHref = "http://www.opus-repository.org/error/PayloadToLarge"
)

type fakeStore struct {
	accounts []*db.Account
	statuses map[string]*db.RepositoryStatus
	records  map[string][]*db.DepositRecord
	logs     []*db.RepositoryDepositLog

	statusErr      error
	getStatusCalls int
	statusSaves    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses: map[string]*db.RepositoryStatus{},
		records:  map[string][]*db.DepositRecord{},
	}
}

func recKey(notificationID, accountID string) string {
	return notificationID + "|" + accountID
}

func (s *fakeStore) WithSwordActivated(ctx context.Context) ([]*db.Account, error) {
	return s.accounts, nil
}

func (s *fakeStore) GetRepositoryStatus(ctx context.Context, accountID string) (*db.RepositoryStatus, error) {
	s.getStatusCalls++
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return s.statuses[accountID], nil
}

func (s *fakeStore) SaveRepositoryStatus(ctx context.Context, rs *db.RepositoryStatus) error {
	s.statusSaves++
	s.statuses[rs.ID] = rs
	return nil
}

func (s *fakeStore) PullDepositRecord(ctx context.Context, notificationID, accountID string) (*db.DepositRecord, error) {
	recs := s.records[recKey(notificationID, accountID)]
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[len(recs)-1], nil
}

func (s *fakeStore) CountDepositRecords(ctx context.Context, notificationID, accountID string) (int, error) {
	return len(s.records[recKey(notificationID, accountID)]), nil
}

func (s *fakeStore) SaveDepositRecord(ctx context.Context, dr *db.DepositRecord) error {
	key := recKey(dr.Notification, dr.Repo)
	for i, existing := range s.records[key] {
		if existing.ID == dr.ID {
			s.records[key][i] = dr
			return nil
		}
	}
	s.records[key] = append(s.records[key], dr)
	return nil
}

func (s *fakeStore) SaveDepositLog(ctx context.Context, dl *db.RepositoryDepositLog) error {
	s.logs = append(s.logs, dl)
	return nil
}

func (s *fakeStore) lastRecord(t *testing.T, notificationID, accountID string) *db.DepositRecord {
	t.Helper()
	dr, _ := s.PullDepositRecord(context.Background(), notificationID, accountID)
	if dr == nil {
		t.Fatalf("no deposit record stored for %s/%s", notificationID, accountID)
	}
	return dr
}

type fakeIterator struct {
	notes []jper.Notification
	idx   int
	err   error
}

func (it *fakeIterator) Next() bool {
	if it.idx >= len(it.notes) {
		return false
	}
	it.idx++
	return true
}

func (it *fakeIterator) Notification() *jper.Notification {
	return &it.notes[it.idx-1]
}

func (it *fakeIterator) Err() error {
	if it.idx >= len(it.notes) {
		return it.err
	}
	return nil
}

type fakeSource struct {
	notes      []jper.Notification
	listErr    error
	content    map[string][]byte
	contentErr error

	iterations int
	lastSince  time.Time
}

func (s *fakeSource) IterateNotifications(ctx context.Context, since time.Time, repositoryID string) NotificationIterator {
	s.iterations++
	s.lastSince = since
	return &fakeIterator{notes: s.notes, err: s.listErr}
}

func (s *fakeSource) GetContent(ctx context.Context, url string) (io.ReadCloser, http.Header, error) {
	if s.contentErr != nil {
		return nil, nil, s.contentErr
	}
	b, ok := s.content[url]
	if !ok {
		return nil, nil, fmt.Errorf("no content behind %s", url)
	}
	return io.NopCloser(bytes.NewReader(b)), http.Header{}, nil
}

type createCall struct {
	req     sword.CreateRequest
	payload []byte
}

type fileCall struct {
	iri       string
	filename  string
	mimetype  string
	packaging string
	payload   []byte
}

type fakeConn struct {
	createResp *sword.Response
	createErr  error
	creates    []createCall

	addFileResp *sword.Response
	addFiles    []fileCall

	updateResp *sword.Response
	updateErr  error
	updates    []fileCall

	completeResp *sword.Response
	completes    int

	receiptResp *sword.Response
}

func okResponse() *sword.Response {
	return &sword.Response{Code: 200}
}

func (c *fakeConn) Create(ctx context.Context, req sword.CreateRequest) (*sword.Response, error) {
	call := createCall{req: req}
	if req.Payload != nil {
		b, err := io.ReadAll(req.Payload)
		if err != nil {
			return nil, err
		}
		call.payload = b
	}
	c.creates = append(c.creates, call)

	if c.createErr != nil {
		return nil, c.createErr
	}
	if c.createResp != nil {
		return c.createResp, nil
	}
	return okResponse(), nil
}

func (c *fakeConn) AddFileToResource(ctx context.Context, editMediaIRI string, file io.Reader, filename, mimetype, packaging string) (*sword.Response, error) {
	b, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	c.addFiles = append(c.addFiles, fileCall{
		iri:       editMediaIRI,
		filename:  filename,
		mimetype:  mimetype,
		packaging: packaging,
		payload:   b,
	})
	if c.addFileResp != nil {
		return c.addFileResp, nil
	}
	return okResponse(), nil
}

func (c *fakeConn) UpdateFilesForResource(ctx context.Context, file io.Reader, filename, mimetype, packaging string, receipt *sword.Receipt) (*sword.Response, error) {
	b, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	c.updates = append(c.updates, fileCall{
		iri:       receipt.EditMediaIRI,
		filename:  filename,
		mimetype:  mimetype,
		packaging: packaging,
		payload:   b,
	})
	if c.updateErr != nil {
		return nil, c.updateErr
	}
	if c.updateResp != nil {
		return c.updateResp, nil
	}
	return okResponse(), nil
}

func (c *fakeConn) CompleteDeposit(ctx context.Context, receipt *sword.Receipt) (*sword.Response, error) {
	c.completes++
	if c.completeResp != nil {
		return c.completeResp, nil
	}
	return okResponse(), nil
}

func (c *fakeConn) GetDepositReceipt(ctx context.Context, editIRI string) (*sword.Response, error) {
	if c.receiptResp != nil {
		return c.receiptResp, nil
	}
	return okResponse(), nil
}

type fakeLocker struct {
	acquireErr error
	acquires   int
	releases   int
}

func (l *fakeLocker) Acquire(ctx context.Context, accountID string) error {
	l.acquires++
	return l.acquireErr
}

func (l *fakeLocker) Release(ctx context.Context, accountID string) {
	l.releases++
}

type fakeAlerter struct {
	suspended []string
}

func (a *fakeAlerter) AccountSuspended(ctx context.Context, accountID string, retries int) error {
	a.suspended = append(a.suspended, accountID)
	return nil
}

func testConfig() Config {
	return Config{
		DefaultSinceDate:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		SinceDeltaDays:     2,
		RetryDelay:         time.Hour,
		RetryLimit:         3,
		MaxDepositAttempts: 10,
		StoreResponseData:  true,
	}
}

func newTestEngine(t *testing.T, store *fakeStore, src *fakeSource, conn *fakeConn, locker Locker, alerter Alerter, cfg Config) *Engine {
	t.Helper()

	tmp, err := tmpstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("tmp store: %v", err)
	}

	sources := func(string) NotificationSource { return src }
	conns := func(string, string) SwordConnection { return conn }

	return New(store, sources, conns, tmp, locker, alerter, cfg, zap.NewNop())
}

func opusAccount() *db.Account {
	return &db.Account{
		ID:              "acc1",
		APIKey:          "key1",
		Packaging:       []string{opusPackaging},
		SwordCollection: "http://repo.example.org/sword/collection",
		SwordUsername:   "depositor",
		SwordPassword:   "secret",
	}
}

func jatsAccount() *db.Account {
	acc := opusAccount()
	acc.Packaging = []string{jatsPackaging}
	return acc
}

func packagedNote(id, created, url, packaging string) jper.Notification {
	return jper.Notification{
		ID:          id,
		CreatedDate: created,
		Links: []jper.Link{
			{Type: "package", Format: "application/zip", URL: url, Packaging: packaging},
		},
		Metadata: jper.Metadata{Title: "An Article"},
	}
}

func metadataOnlyNote(id, created string) jper.Notification {
	return jper.Notification{
		ID:          id,
		CreatedDate: created,
		Metadata:    jper.Metadata{Title: "An Article"},
	}
}
