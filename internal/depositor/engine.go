package depositor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/deepgreen/swordout/internal/db"
	"github.com/deepgreen/swordout/internal/jper"
	"github.com/deepgreen/swordout/internal/metrics"
	rds "github.com/deepgreen/swordout/internal/redis"
	"github.com/deepgreen/swordout/internal/sword"
	"github.com/deepgreen/swordout/internal/tmpstore"
)

// Store is the persistence surface the engine consumes.
type Store interface {
	WithSwordActivated(ctx context.Context) ([]*db.Account, error)
	GetRepositoryStatus(ctx context.Context, accountID string) (*db.RepositoryStatus, error)
	SaveRepositoryStatus(ctx context.Context, rs *db.RepositoryStatus) error
	PullDepositRecord(ctx context.Context, notificationID, accountID string) (*db.DepositRecord, error)
	CountDepositRecords(ctx context.Context, notificationID, accountID string) (int, error)
	SaveDepositRecord(ctx context.Context, dr *db.DepositRecord) error
	SaveDepositLog(ctx context.Context, dl *db.RepositoryDepositLog) error
}

// NotificationIterator walks a notification listing in order.
type NotificationIterator interface {
	Next() bool
	Notification() *jper.Notification
	Err() error
}

// NotificationSource is the JPER surface the engine consumes, bound to one
// account's API key.
type NotificationSource interface {
	IterateNotifications(ctx context.Context, since time.Time, repositoryID string) NotificationIterator
	GetContent(ctx context.Context, url string) (io.ReadCloser, http.Header, error)
}

// SourceFactory builds a NotificationSource for an account's API key.
type SourceFactory func(apiKey string) NotificationSource

// SwordConnection is the SWORDv2 surface the engine consumes.
type SwordConnection interface {
	Create(ctx context.Context, req sword.CreateRequest) (*sword.Response, error)
	AddFileToResource(ctx context.Context, editMediaIRI string, file io.Reader, filename, mimetype, packaging string) (*sword.Response, error)
	UpdateFilesForResource(ctx context.Context, file io.Reader, filename, mimetype, packaging string, receipt *sword.Receipt) (*sword.Response, error)
	CompleteDeposit(ctx context.Context, receipt *sword.Receipt) (*sword.Response, error)
	GetDepositReceipt(ctx context.Context, editIRI string) (*sword.Response, error)
}

// ConnectionFactory builds a sword connection with an account's credentials.
// The engine constructs a fresh connection per deposit phase.
type ConnectionFactory func(username, password string) SwordConnection

// Locker serializes passes per account. Optional.
type Locker interface {
	Acquire(ctx context.Context, accountID string) error
	Release(ctx context.Context, accountID string)
}

// Alerter is told when an account is suspended. Optional.
type Alerter interface {
	AccountSuspended(ctx context.Context, accountID string, retries int) error
}

// Config is the engine's immutable configuration snapshot.
type Config struct {
	// DefaultSinceDate is the cursor used for accounts that have never
	// deposited.
	DefaultSinceDate time.Time

	// SinceDeltaDays rewinds the cursor on every pass to absorb timestamp
	// granularity collisions. Duplicates are caught by the idempotence check.
	SinceDeltaDays int

	// RetryDelay is the minimum time between attempts on a problem account.
	RetryDelay time.Duration

	// RetryLimit is the failure count at which problem becomes failing.
	RetryLimit int

	// MaxDepositAttempts caps attempts per notification (poison cap).
	MaxDepositAttempts int

	// StoreResponseData persists deposit records and raw SWORD response
	// bodies when set.
	StoreResponseData bool

	// ResponseDir is where raw SWORD response bodies are written.
	ResponseDir string
}

// Engine relays notifications from JPER to sword-enabled repositories. One
// Run call is one pass; the engine does not schedule itself.
type Engine struct {
	store   Store
	sources SourceFactory
	conns   ConnectionFactory
	tmp     *tmpstore.Store
	locker  Locker
	alerter Alerter
	cfg     Config
	logger  *zap.Logger
}

// New creates the engine. locker and alerter may be nil.
func New(store Store, sources SourceFactory, conns ConnectionFactory, tmp *tmpstore.Store, locker Locker, alerter Alerter, cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxDepositAttempts == 0 {
		cfg.MaxDepositAttempts = 10
	}

	return &Engine{
		store:   store,
		sources: sources,
		conns:   conns,
		tmp:     tmp,
		locker:  locker,
		alerter: alerter,
		cfg:     cfg,
		logger:  logger,
	}
}

// NewJPERSource adapts the concrete JPER client to the engine's
// NotificationSource interface.
func NewJPERSource(c *jper.Client) NotificationSource {
	return jperSource{c}
}

type jperSource struct {
	c *jper.Client
}

func (s jperSource) IterateNotifications(ctx context.Context, since time.Time, repositoryID string) NotificationIterator {
	return s.c.IterateNotifications(ctx, since, repositoryID)
}

func (s jperSource) GetContent(ctx context.Context, url string) (io.ReadCloser, http.Header, error) {
	return s.c.GetContent(ctx, url)
}

// Run executes a single pass over all sword-activated accounts. When
// failOnError is set, the first transport-class failure aborts the pass;
// otherwise it is logged and the remaining accounts are still processed.
func (e *Engine) Run(ctx context.Context, failOnError bool) error {
	start := time.Now()
	defer metrics.RecordPass(start)

	e.logger.Info("entering run")

	accounts, err := e.store.WithSwordActivated(ctx)
	if err != nil {
		return fmt.Errorf("list sword activated accounts: %w", err)
	}

	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.ProcessAccount(ctx, acc); err != nil {
			e.logger.Error("problem while processing account for SWORD deposit",
				zap.Error(err),
				zap.String("account_id", acc.ID),
			)
			metrics.RecordAccount("errored")
			if failOnError {
				return err
			}
		}
	}

	e.publishFailingGauge(ctx, accounts)

	e.logger.Info("leaving run", zap.Duration("took", time.Since(start)))
	return nil
}

// publishFailingGauge refreshes the suspended-accounts gauge at the end of a
// pass. Best effort; a store hiccup here must not fail the pass.
func (e *Engine) publishFailingGauge(ctx context.Context, accounts []*db.Account) {
	failing := 0
	for _, acc := range accounts {
		status, err := e.store.GetRepositoryStatus(ctx, acc.ID)
		if err != nil {
			e.logger.Warn("failed to read repository status for gauge", zap.Error(err))
			return
		}
		if status != nil && status.Status == db.StatusFailing {
			failing++
		}
	}
	metrics.SetAccountsFailing(failing)
}

// ProcessAccount relays the account's new notifications to its repository.
// It returns an error only for transport-class failures (JPER or store);
// deposit failures are absorbed into the repository status machine.
func (e *Engine) ProcessAccount(ctx context.Context, acc *db.Account) error {
	e.logger.Info("processing account", zap.String("account_id", acc.ID))

	if e.locker != nil {
		if err := e.locker.Acquire(ctx, acc.ID); err != nil {
			if errors.Is(err, rds.ErrLockHeld) {
				e.logger.Warn("account is locked by another pass - skipping",
					zap.String("account_id", acc.ID))
				metrics.RecordAccount("skipped_locked")
				return nil
			}
			return fmt.Errorf("lock account %s: %w", acc.ID, err)
		}
		defer e.locker.Release(ctx, acc.ID)
	}

	status, err := e.store.GetRepositoryStatus(ctx, acc.ID)
	if err != nil {
		return err
	}

	depositLog := db.NewRepositoryDepositLog(acc.ID)

	// a repository new to sword deposit gets a fresh status record
	if status == nil {
		e.logger.Debug("account has not previously deposited - creating repository status record",
			zap.String("account_id", acc.ID))
		status = &db.RepositoryStatus{
			ID:              acc.ID,
			Status:          db.StatusSucceeding,
			LastDepositDate: e.cfg.DefaultSinceDate,
		}
		if err := e.store.SaveRepositoryStatus(ctx, status); err != nil {
			return err
		}
		depositLog.AddMessage("debug", fmt.Sprintf("First deposit for account %s", acc.ID), "", "")
	}

	e.logger.Info("repository status",
		zap.String("account_id", acc.ID),
		zap.String("status", status.Status),
	)

	if status.Status == db.StatusFailing {
		e.logger.Debug("account is marked as failing - skipping; it may need manual reactivation",
			zap.String("account_id", acc.ID))
		metrics.RecordAccount("skipped_failing")
		return nil
	}

	if status.Status == db.StatusProblem && !status.CanRetry(e.cfg.RetryDelay) {
		e.logger.Debug("account is experiencing problems and retry delay has not yet elapsed - skipping",
			zap.String("account_id", acc.ID))
		metrics.RecordAccount("skipped_retry_delay")
		return nil
	}

	since := status.LastDepositDate
	if since.IsZero() {
		since = e.cfg.DefaultSinceDate
		status.LastDepositDate = since
	}

	// rewind the cursor to absorb timestamp granularity collisions; doubles
	// are caught by the idempotence check in ProcessNotification
	safeSince := since.AddDate(0, 0, -e.cfg.SinceDeltaDays)
	depositLog.AddMessage("info",
		fmt.Sprintf("Finding updated notifications since %s", safeSince.UTC().Format(time.RFC3339)), "", "")

	source := e.sources(acc.APIKey)
	it := source.IterateNotifications(ctx, safeSince, acc.ID)

	depositDoneCount := 0
	for it.Next() {
		note := it.Notification()

		done, depositRecordID, derr := e.ProcessNotification(ctx, acc, note, source, false)
		if derr != nil {
			msg := fmt.Sprintf("Received package deposit exception for Notification:%s on Account:%s. "+
				"Recording a failed deposit and ceasing further processing of notifications for this account. %v",
				note.ID, acc.ID, derr)
			e.logger.Error("deposit failed - ceasing processing for this account",
				zap.Error(derr),
				zap.String("account_id", acc.ID),
				zap.String("notification_id", note.ID),
			)
			depositLog.AddMessage("error", msg, note.ID, "")
			if depositDoneCount > 0 {
				depositLog.AddMessage("info",
					fmt.Sprintf("Number of successful deposits: %d", depositDoneCount), "", "")
			}

			wasFailing := status.Status == db.StatusFailing
			status.RecordFailure(e.cfg.RetryLimit)
			if serr := e.store.SaveRepositoryStatus(ctx, status); serr != nil {
				return serr
			}

			depositLog.Status = status.Status
			if serr := e.store.SaveDepositLog(ctx, depositLog); serr != nil {
				return serr
			}

			if status.Status == db.StatusFailing && !wasFailing {
				e.notifySuspended(ctx, acc.ID, status.Retries)
			}

			metrics.RecordAccount("errored")
			return nil
		}

		if done {
			if created, perr := note.CreatedAt(); perr == nil {
				status.LastDepositDate = created
			} else {
				e.logger.Warn("notification has unparseable created date - cursor not advanced",
					zap.String("notification_id", note.ID),
					zap.String("created_date", note.CreatedDate),
				)
			}
			status.RecordSuccess()
			depositLog.AddMessage("info", "Notification deposited", note.ID, depositRecordID)
			depositDoneCount++
			metrics.RecordDeposit("deposited")
		} else if depositRecordID != "" {
			dr, perr := e.store.PullDepositRecord(ctx, note.ID, acc.ID)
			if perr != nil {
				return perr
			}
			if dr != nil && dr.SoftFailed() {
				depositLog.AddMessage("warn",
					fmt.Sprintf("Notification not deposited - %s", dr.MetadataStatus),
					note.ID, depositRecordID)
			}
		}
	}

	if err := it.Err(); err != nil {
		// save the cursor where we got to, so the next pass picks up here
		if serr := e.store.SaveRepositoryStatus(ctx, status); serr != nil {
			return serr
		}

		msg := fmt.Sprintf("Problem while processing account for SWORD deposit: %v", err)
		e.logger.Error("notification listing failed",
			zap.Error(err),
			zap.String("account_id", acc.ID),
		)
		depositLog.AddMessage("error", msg, "", "")
		if depositDoneCount > 0 {
			depositLog.AddMessage("info",
				fmt.Sprintf("Number of successful deposits: %d", depositDoneCount), "", "")
		}
		depositLog.Status = status.Status
		if serr := e.store.SaveDepositLog(ctx, depositLog); serr != nil {
			return serr
		}

		return err
	}

	// all notifications for this account have been deposited
	if err := e.store.SaveRepositoryStatus(ctx, status); err != nil {
		return err
	}

	if depositDoneCount > 0 {
		depositLog.AddMessage("info",
			fmt.Sprintf("Number of successful deposits: %d", depositDoneCount), "", "")
		depositLog.Status = db.StatusSucceeding
		if err := e.store.SaveDepositLog(ctx, depositLog); err != nil {
			return err
		}
	}

	metrics.RecordAccount("processed")
	e.logger.Info("leaving processing account",
		zap.String("account_id", acc.ID),
		zap.Int("deposited", depositDoneCount),
	)
	return nil
}

func (e *Engine) notifySuspended(ctx context.Context, accountID string, retries int) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.AccountSuspended(ctx, accountID, retries); err != nil {
		e.logger.Error("failed to send suspension alert",
			zap.Error(err),
			zap.String("account_id", accountID),
		)
	}
}
