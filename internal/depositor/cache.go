package depositor

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/deepgreen/swordout/internal/db"
	"github.com/deepgreen/swordout/internal/jper"
)

// cacheContent copies the content behind the link into a fresh tmp-store
// scope, because the deposit needs a seekable file rather than the http
// stream. The scope holds a README.txt naming the notification and the
// payload named after the last URL path segment. The caller deletes the
// scope once the deposit attempt is over, on both success and failure.
func (e *Engine) cacheContent(ctx context.Context, source NotificationSource, link *jper.Link, note *jper.Notification) (string, string, error) {
	e.logger.Debug("caching content",
		zap.String("notification_id", note.ID),
		zap.String("url", link.URL),
	)

	body, _, err := source.GetContent(ctx, link.URL)
	if err != nil {
		return "", "", err
	}
	defer body.Close()

	scope, err := e.tmp.NewScope()
	if err != nil {
		return "", "", err
	}

	if _, err := e.tmp.Put(scope, "README.txt", strings.NewReader(note.ID)); err != nil {
		e.deleteScope(scope)
		return "", "", err
	}

	filename := link.URL
	if i := strings.LastIndex(filename, "/"); i >= 0 {
		filename = filename[i+1:]
	}
	if filename == "" {
		filename = "deposit.zip"
	}

	path, err := e.tmp.Put(scope, filename, body)
	if err != nil {
		e.deleteScope(scope)
		return "", "", err
	}

	return scope, path, nil
}

func (e *Engine) deleteScope(scope string) {
	if err := e.tmp.Delete(scope); err != nil {
		e.logger.Warn("failed to delete cached content", zap.Error(err), zap.String("scope", scope))
	}
}

// saveRecordIfConfigured persists the deposit record when response storage
// is enabled. Persistence failures are logged, not propagated; losing a
// provenance write must not abort a deposit pass.
func (e *Engine) saveRecordIfConfigured(ctx context.Context, dr *db.DepositRecord) {
	if !e.cfg.StoreResponseData {
		return
	}
	if err := e.store.SaveDepositRecord(ctx, dr); err != nil {
		e.logger.Error("failed to save deposit record",
			zap.Error(err),
			zap.String("deposit_record_id", dr.ID),
		)
	}
}

// saveResponse writes a raw SWORD response body next to the deposit record's
// other artifacts when response storage is enabled.
func (e *Engine) saveResponse(depositRecordID, filename string, body []byte) {
	if !e.cfg.StoreResponseData || e.cfg.ResponseDir == "" {
		return
	}

	dir := filepath.Join(e.cfg.ResponseDir, depositRecordID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.logger.Warn("failed to create response dir", zap.Error(err), zap.String("dir", dir))
		return
	}

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		e.logger.Warn("failed to store sword response",
			zap.Error(err),
			zap.String("path", path),
		)
	}
}
