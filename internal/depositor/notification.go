package depositor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deepgreen/swordout/internal/db"
	"github.com/deepgreen/swordout/internal/jper"
	"github.com/deepgreen/swordout/internal/metrics"
	"github.com/deepgreen/swordout/internal/sword"
	"github.com/deepgreen/swordout/internal/xwalk"
)

const escidocPackaging = "http://purl.org/escidoc/metadata/schemas/0.1/publication"

// atomicPackaging reports whether the packaging identifier selects the
// atomic single-package deposit (the deepgreen family) rather than the
// three-phase metadata/content/complete sequence.
func atomicPackaging(packaging string) bool {
	p := strings.ToLower(packaging)
	for _, s := range []string{"opus4", "escidoc", "dspace", "mods", "simple"} {
		if strings.Contains(p, s) {
			return true
		}
	}
	return false
}

// selectPackage picks the notification link to deposit by walking the
// account's packaging preferences in order; the first format with a link
// wins.
func selectPackage(acc *db.Account, note *jper.Notification) (*jper.Link, string) {
	for _, p := range acc.Packaging {
		if link := note.GetPackageLink(p); link != nil {
			return link, p
		}
	}
	return nil, ""
}

// ProcessNotification delivers one notification to the account's repository.
//
// The returned flag distinguishes "this pass did useful work on this
// notification" (the caller advances the cursor) from "this notification is
// accounted for but produced no new deposit" - already succeeded, soft
// failed, attempt cap reached, or content unavailable. The two must not be
// collapsed into a single success/fail boolean.
//
// A non-nil error is always a *DepositError; transport failures fetching
// content are absorbed into the deposit record instead.
//
// force bypasses the idempotence and attempt-cap checks and always works on
// a fresh deposit record (debugging hook).
func (e *Engine) ProcessNotification(ctx context.Context, acc *db.Account, note *jper.Notification, source NotificationSource, force bool) (bool, string, error) {
	e.logger.Debug("processing notification",
		zap.String("account_id", acc.ID),
		zap.String("notification_id", note.ID),
	)

	var dr *db.DepositRecord

	if !force {
		prev, err := e.store.PullDepositRecord(ctx, note.ID, acc.ID)
		if err != nil {
			return false, "", &DepositError{Phase: phaseMetadata, Account: acc.ID, Notification: note.ID, Err: err}
		}

		if prev != nil {
			if prev.WasSuccessful() {
				e.logger.Debug("notification was previously deposited - skipping",
					zap.String("account_id", acc.ID),
					zap.String("notification_id", note.ID),
				)
				metrics.RecordDeposit("skipped")
				return false, prev.ID, nil
			}

			if prev.SoftFailed() {
				e.logger.Debug("notification previously hit a permanent soft failure - skipping",
					zap.String("account_id", acc.ID),
					zap.String("notification_id", note.ID),
					zap.String("metadata_status", prev.MetadataStatus),
				)
				metrics.RecordDeposit("skipped")
				return false, prev.ID, nil
			}

			attempts, err := e.store.CountDepositRecords(ctx, note.ID, acc.ID)
			if err != nil {
				return false, "", &DepositError{Phase: phaseMetadata, Account: acc.ID, Notification: note.ID, Err: err}
			}
			if attempts >= e.cfg.MaxDepositAttempts {
				e.logger.Warn("notification reached the deposit attempt cap - skipping",
					zap.String("account_id", acc.ID),
					zap.String("notification_id", note.ID),
					zap.Int("attempts", attempts),
				)
				prev.AddMessage("warn",
					fmt.Sprintf("Notification reached the maximum of %d deposit attempts - giving up", e.cfg.MaxDepositAttempts))
				e.saveRecordIfConfigured(ctx, prev)
				metrics.RecordDeposit("skipped")
				return false, prev.ID, nil
			}

			dr = prev
		}
	}

	if dr == nil {
		dr = db.NewDepositRecord(note.ID, acc.ID)
	}
	dr.DepositDate = time.Now()

	link, packaging := selectPackage(acc, note)

	// pre-populate the content and completed bits if there is no package to
	// deposit
	if link == nil {
		dr.ContentStatus = db.DepositStatusNone
		dr.CompletedStatus = db.DepositStatusNone
	}

	var (
		done bool
		err  error
	)
	if atomicPackaging(packaging) {
		done, err = e.atomicDeposit(ctx, acc, note, link, packaging, dr, source)
	} else {
		done, err = e.threePhaseDeposit(ctx, acc, note, link, packaging, dr, source)
	}
	if err != nil {
		metrics.RecordDeposit(failureOutcome(dr))
		return done, dr.ID, err
	}

	e.saveRecordIfConfigured(ctx, dr)
	e.logger.Debug("leaving processing notification",
		zap.String("notification_id", note.ID),
		zap.Bool("deposit_done", done),
	)
	if !done {
		metrics.RecordDeposit(failureOutcome(dr))
	}
	return done, dr.ID, nil
}

func failureOutcome(dr *db.DepositRecord) string {
	if dr.SoftFailed() {
		return "soft_failed"
	}
	return "failed"
}

// atomicDeposit ships the whole package in a single create request (the
// deepgreen family of repositories).
func (e *Engine) atomicDeposit(ctx context.Context, acc *db.Account, note *jper.Notification, link *jper.Link, packaging string, dr *db.DepositRecord, source NotificationSource) (bool, error) {
	// this should never happen because packaging was selected from a link,
	// but if there is no content to deposit we can wrap up and return
	if link == nil {
		msg := fmt.Sprintf("No content files to deposit for Notification:%s on Account:%s", note.ID, acc.ID)
		dr.AddMessage("debug", msg)
		e.logger.Debug(msg)
		e.saveRecordIfConfigured(ctx, dr)
		return false, nil
	}

	// some repositories are picky about the packaging identifier
	switch {
	case strings.Contains(strings.ToLower(packaging), "opus4"):
		packaging = "" // the server infers the format
	case strings.Contains(strings.ToLower(packaging), "escidoc"):
		packaging = escidocPackaging
	}

	scope, path, err := e.cacheContent(ctx, source, link, note)
	if err != nil {
		msg := fmt.Sprintf("Problem while retrieving content from store for SWORD deposit: %v", err)
		dr.AddMessage("error", msg)
		e.logger.Error(msg)
		e.saveRecordIfConfigured(ctx, dr)
		return false, nil
	}
	defer e.deleteScope(scope)

	// deposit from the locally cached file; the http stream is not seekable
	f, err := os.Open(path)
	if err != nil {
		dr.AddMessage("error", fmt.Sprintf("Problem opening cached content: %v", err))
		e.saveRecordIfConfigured(ctx, dr)
		return false, nil
	}
	defer f.Close()

	msg := fmt.Sprintf("Depositing DeepGreen Package Format:%s for Account:%s", packaging, acc.ID)
	dr.AddMessage("info", msg)
	e.logger.Info(msg)

	conn := e.conns(acc.SwordUsername, acc.SwordPassword)
	resp, err := conn.Create(ctx, sword.CreateRequest{
		CollectionIRI: acc.SwordCollection,
		Payload:       f,
		Filename:      "deposit.zip",
		MimeType:      "application/zip",
		Packaging:     packaging,
	})
	if err != nil {
		msg := fmt.Sprintf("There was an error depositing the package to the repository. %v", err)
		dr.AddMessage("error", msg)
		dr.ContentStatus = db.DepositStatusFailed
		dr.MetadataStatus = db.DepositStatusFailed
		e.saveRecordIfConfigured(ctx, dr)
		return false, &DepositError{Phase: phasePackage, Account: acc.ID, Notification: note.ID, Err: err}
	}

	if resp.IsError() {
		dr.ContentStatus = db.DepositStatusFailed
		if soft := softFailureStatus(resp.Error); soft != "" {
			dr.MetadataStatus = soft
		} else {
			dr.MetadataStatus = db.DepositStatusFailed
		}

		msg := fmt.Sprintf("Received error document depositing the package to the repository. "+
			"Content deposit failed with status %d (error_href=%s)", resp.Error.Code, resp.Error.Href)
		dr.AddMessage("error", msg)
		e.saveResponse(dr.ID, "content_deposit.txt", resp.Body)
		e.saveRecordIfConfigured(ctx, dr)

		if dr.SoftFailed() {
			e.logger.Info("package deposit soft-failed",
				zap.String("notification_id", note.ID),
				zap.String("metadata_status", dr.MetadataStatus),
			)
			return false, nil
		}

		e.logger.Error(msg)
		return false, &DepositError{Phase: phasePackage, Account: acc.ID, Notification: note.ID, Err: fmt.Errorf("%s", msg)}
	}

	dr.AddMessage("info", "Content deposit was successful")
	e.saveResponse(dr.ID, "content_deposit.txt", resp.Body)
	dr.MetadataStatus = db.DepositStatusDeposited
	dr.ContentStatus = db.DepositStatusDeposited
	dr.CompletedStatus = db.DepositStatusDeposited
	return true, nil
}

// threePhaseDeposit runs the metadata -> content -> complete sequence.
// Metadata-only deposits (no content link) are valid and stop after phase
// one.
func (e *Engine) threePhaseDeposit(ctx context.Context, acc *db.Account, note *jper.Notification, link *jper.Link, packaging string, dr *db.DepositRecord, source NotificationSource) (bool, error) {
	receipt, err := e.metadataDeposit(ctx, acc, note, dr, link == nil)
	if err != nil {
		if !dr.SoftFailed() {
			dr.MetadataStatus = db.DepositStatusFailed
		}
		e.saveRecordIfConfigured(ctx, dr)

		if dr.SoftFailed() {
			e.logger.Info("metadata deposit soft-failed",
				zap.String("notification_id", note.ID),
				zap.String("metadata_status", dr.MetadataStatus),
			)
			return false, nil
		}
		return false, err
	}
	dr.MetadataStatus = db.DepositStatusDeposited

	// beyond this point we are only dealing with content
	if link == nil {
		msg := fmt.Sprintf("No content files to deposit for Notification:%s on Account:%s", note.ID, acc.ID)
		dr.AddMessage("debug", msg)
		e.logger.Debug(msg)
		e.saveRecordIfConfigured(ctx, dr)
		return true, nil
	}

	scope, path, cerr := e.cacheContent(ctx, source, link, note)
	if cerr != nil {
		msg := fmt.Sprintf("Problem while retrieving content from store for SWORD deposit: %v", cerr)
		dr.AddMessage("error", msg)
		e.logger.Error(msg)
		e.saveRecordIfConfigured(ctx, dr)
		// content fetch failure is never a DepositError; the cursor stays
		// put and the notification is retried on a later pass
		return false, nil
	}
	defer e.deleteScope(scope)

	f, oerr := os.Open(path)
	if oerr != nil {
		dr.AddMessage("error", fmt.Sprintf("Problem opening cached content: %v", oerr))
		e.saveRecordIfConfigured(ctx, dr)
		return false, nil
	}
	defer f.Close()

	if err := e.packageDeposit(ctx, acc, note, receipt, f, packaging, dr); err != nil {
		dr.ContentStatus = db.DepositStatusFailed
		e.saveRecordIfConfigured(ctx, dr)
		if dr.SoftFailed() {
			return false, nil
		}
		return false, err
	}
	dr.ContentStatus = db.DepositStatusDeposited

	if err := e.completeDeposit(ctx, acc, note, receipt, dr); err != nil {
		dr.CompletedStatus = db.DepositStatusFailed
		e.saveRecordIfConfigured(ctx, dr)
		if dr.SoftFailed() {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// metadataDeposit delivers the crosswalked atom entry and returns the deposit
// receipt needed for the following phases.
func (e *Engine) metadataDeposit(ctx context.Context, acc *db.Account, note *jper.Notification, dr *db.DepositRecord, complete bool) (*sword.Receipt, error) {
	msg := fmt.Sprintf("Depositing metadata for Notification:%s for Account:%s", note.ID, acc.ID)
	dr.AddMessage("info", msg)
	e.logger.Info(msg)

	entry := xwalk.ToEntry(note)

	inProgress := !complete
	if acc.RepositorySoftware == "eprints" {
		// EPrints does not allow "complete" requests, so everything stays
		// in_progress for consistency
		inProgress = true
	}

	conn := e.conns(acc.SwordUsername, acc.SwordPassword)
	resp, err := conn.Create(ctx, sword.CreateRequest{
		CollectionIRI: acc.SwordCollection,
		Entry:         entry,
		InProgress:    inProgress,
	})
	if err != nil {
		msg := fmt.Sprintf("There was an error depositing the metadata to the repository. %v", err)
		dr.AddMessage("error", msg)
		return nil, &DepositError{Phase: phaseMetadata, Account: acc.ID, Notification: note.ID, Err: err}
	}

	if resp.IsError() {
		if soft := softFailureStatus(resp.Error); soft != "" {
			dr.MetadataStatus = soft
		}
		msg := fmt.Sprintf("Received error document depositing metadata to the repository. "+
			"Metadata deposit failed with status %d (error_href=%s)", resp.Error.Code, resp.Error.Href)
		dr.AddMessage("error", msg)
		e.saveResponse(dr.ID, "metadata_deposit.txt", resp.Body)
		e.logger.Error(msg)
		return nil, &DepositError{Phase: phaseMetadata, Account: acc.ID, Notification: note.ID, Err: fmt.Errorf("%s", msg)}
	}

	dr.AddMessage("info", "Metadata deposit was successful")
	e.saveResponse(dr.ID, "metadata_deposit_response.xml", resp.Body)

	receipt := resp.Receipt

	// some repositories answer with an empty body; fetch the receipt
	// explicitly from the Location header
	if receipt == nil {
		if resp.Location == "" {
			err := fmt.Errorf("create returned neither a deposit receipt nor a location")
			dr.AddMessage("error", err.Error())
			return nil, &DepositError{Phase: phaseMetadata, Account: acc.ID, Notification: note.ID, Err: err}
		}

		rresp, err := conn.GetDepositReceipt(ctx, resp.Location)
		if err != nil || rresp.IsError() || rresp.Receipt == nil {
			if err == nil {
				err = fmt.Errorf("deposit receipt unavailable at %s", resp.Location)
			}
			msg := fmt.Sprintf("There was an error attempting to retrieve deposit receipt in repository. %v", err)
			dr.AddMessage("error", msg)
			e.logger.Error(msg)
			return nil, &DepositError{Phase: phaseMetadata, Account: acc.ID, Notification: note.ID, Err: err}
		}
		receipt = rresp.Receipt
		e.saveResponse(dr.ID, "metadata_deposit_response.xml", rresp.Body)
	}

	// eprints additionally wants the atom entry uploaded as a file
	if acc.RepositorySoftware == "eprints" {
		entryXML, xerr := entry.XML()
		if xerr != nil {
			return nil, &DepositError{Phase: phaseMetadata, Account: acc.ID, Notification: note.ID, Err: xerr}
		}
		if _, err := conn.AddFileToResource(ctx, receipt.EditMediaIRI, strings.NewReader(string(entryXML)), "sword.xml", "text/xml", ""); err != nil {
			msg := fmt.Sprintf("There was an error attempting to deposit atom entry as file in Eprints repository. %v", err)
			dr.AddMessage("error", msg)
			e.logger.Error(msg)
			return nil, &DepositError{Phase: phaseMetadata, Account: acc.ID, Notification: note.ID, Err: err}
		}
	}

	return receipt, nil
}

// packageDeposit delivers the binary package against an existing item.
func (e *Engine) packageDeposit(ctx context.Context, acc *db.Account, note *jper.Notification, receipt *sword.Receipt, file *os.File, packaging string, dr *db.DepositRecord) error {
	msg := fmt.Sprintf("Depositing Package of Format:%s for Account:%s", packaging, acc.ID)
	dr.AddMessage("info", msg)
	e.logger.Info(msg)

	conn := e.conns(acc.SwordUsername, acc.SwordPassword)

	var (
		resp *sword.Response
		err  error
	)
	if acc.RepositorySoftware == "eprints" {
		// eprints wants the package added as a file; everyone else gets
		// their media resource replaced
		resp, err = conn.AddFileToResource(ctx, receipt.EditMediaIRI, file, "deposit.zip", "application/zip", packaging)
	} else {
		resp, err = conn.UpdateFilesForResource(ctx, file, "deposit.zip", "application/zip", packaging, receipt)
	}
	if err != nil {
		msg := fmt.Sprintf("There was an error attempting to deposit file in repository. %v", err)
		dr.AddMessage("error", msg)
		return &DepositError{Phase: phaseContent, Account: acc.ID, Notification: note.ID, Err: err}
	}

	if resp.IsError() {
		if soft := softFailureStatus(resp.Error); soft != "" {
			dr.MetadataStatus = soft
		}
		msg := fmt.Sprintf("Received error document depositing package to the repository. "+
			"Content deposit failed with status %d (error_href=%s)", resp.Error.Code, resp.Error.Href)
		dr.AddMessage("error", msg)
		e.saveResponse(dr.ID, "content_deposit.txt", resp.Body)
		e.logger.Error(msg)
		return &DepositError{Phase: phaseContent, Account: acc.ID, Notification: note.ID, Err: fmt.Errorf("%s", msg)}
	}

	dr.AddMessage("info", "Content deposit was successful")
	e.saveResponse(dr.ID, "content_deposit.txt", resp.Body)
	return nil
}

// completeDeposit tells the repository that no further files are coming.
// Repositories that do not support the operation are skipped with
// completed_status "none".
func (e *Engine) completeDeposit(ctx context.Context, acc *db.Account, note *jper.Notification, receipt *sword.Receipt, dr *db.DepositRecord) error {
	msg := fmt.Sprintf("Sending complete request for Account:%s", acc.ID)
	dr.AddMessage("info", msg)
	e.logger.Info(msg)

	if acc.RepositorySoftware == "eprints" {
		dr.CompletedStatus = db.DepositStatusNone
		msg := fmt.Sprintf("Complete request ignored, as repository is '%s' which does not support this operation",
			acc.RepositorySoftware)
		dr.AddMessage("debug", msg)
		e.saveResponse(dr.ID, "complete_deposit.txt", []byte(msg))
		return nil
	}

	conn := e.conns(acc.SwordUsername, acc.SwordPassword)
	resp, err := conn.CompleteDeposit(ctx, receipt)
	if err != nil {
		msg := fmt.Sprintf("There was an error attempting to complete deposit in repository. %v", err)
		dr.AddMessage("error", msg)
		return &DepositError{Phase: phaseComplete, Account: acc.ID, Notification: note.ID, Err: err}
	}

	if resp.IsError() {
		msg := fmt.Sprintf("Received error document for complete request for the repository. "+
			"Complete request failed with status %d (error_href=%s)", resp.Error.Code, resp.Error.Href)
		dr.AddMessage("error", msg)
		e.saveResponse(dr.ID, "complete_deposit.txt", resp.Body)
		e.logger.Error(msg)
		return &DepositError{Phase: phaseComplete, Account: acc.ID, Notification: note.ID, Err: fmt.Errorf("%s", msg)}
	}

	dr.AddMessage("info", "Complete request was successful")
	e.saveResponse(dr.ID, "complete_deposit.txt", resp.Body)
	dr.CompletedStatus = db.DepositStatusDeposited
	return nil
}
