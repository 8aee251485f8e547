package db

import (
	"time"

	"github.com/google/uuid"
)

// Account mirrors the JPER account record, carrying only the fields the
// depositor needs. Accounts are managed by JPER; the engine never writes them.
type Account struct {
	ID                 string   `json:"id"`
	APIKey             string   `json:"api_key"`
	Packaging          []string `json:"packaging"`
	SwordCollection    string   `json:"sword_collection"`
	SwordUsername      string   `json:"sword_username"`
	SwordPassword      string   `json:"sword_password"`
	SwordDepositMethod string   `json:"sword_deposit_method"`
	RepositorySoftware string   `json:"repository_software"`
}

// Repository status values
const (
	StatusSucceeding = "succeeding"
	StatusProblem    = "problem"
	StatusFailing    = "failing"
)

// Deposit phase outcomes recorded on a DepositRecord
const (
	DepositStatusDeposited = "deposited"
	DepositStatusFailed    = "failed"
	DepositStatusNone      = "none"

	// Soft failures raised by the OPUS4 sword implementation. Permanent for
	// the notification but not attributable to repository availability.
	DepositStatusInvalidXML      = "invalidxml"
	DepositStatusPayloadTooLarge = "payloadtoolarge"
)

// RepositoryStatus is the per-account deposit state machine. It gates whether
// an account is processed at all and carries the notification cursor.
type RepositoryStatus struct {
	ID              string     `json:"id"` // account id
	Status          string     `json:"status"`
	LastDepositDate time.Time  `json:"last_deposit_date"`
	LastTried       *time.Time `json:"last_tried,omitempty"`
	Retries         int        `json:"retries"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUpdated     time.Time  `json:"last_updated"`
}

// RecordFailure increments the retry count and marks the account as problem,
// or failing once the retry limit is reached. A failing account is skipped
// until it is manually re-activated.
func (rs *RepositoryStatus) RecordFailure(limit int) {
	now := time.Now()
	rs.Retries++
	rs.LastTried = &now
	if rs.Retries >= limit {
		rs.Status = StatusFailing
	} else {
		rs.Status = StatusProblem
	}
}

// RecordSuccess resets the state machine. A single successful deposit inside
// a pass clears a prior problem state.
func (rs *RepositoryStatus) RecordSuccess() {
	rs.Status = StatusSucceeding
	rs.Retries = 0
}

// CanRetry reports whether enough time has elapsed since the last failed
// attempt to try the account again.
func (rs *RepositoryStatus) CanRetry(delay time.Duration) bool {
	if rs.LastTried == nil {
		return true
	}
	return time.Since(*rs.LastTried) >= delay
}

// Activate re-enables deposits for the account (operator action).
func (rs *RepositoryStatus) Activate() {
	rs.Status = StatusSucceeding
	rs.Retries = 0
}

// Deactivate suspends deposits for the account (operator action).
func (rs *RepositoryStatus) Deactivate() {
	rs.Status = StatusFailing
}

// Message is one audit entry on a deposit record.
type Message struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DepositRecord captures the provenance of one deposit attempt for a
// (notification, account) pair. The account id field is named "repo" for
// compatibility with existing stored data.
type DepositRecord struct {
	ID              string    `json:"id"`
	Repo            string    `json:"repo"` // account id
	Notification    string    `json:"notification"`
	DepositDate     time.Time `json:"deposit_date"`
	MetadataStatus  string    `json:"metadata_status"`
	ContentStatus   string    `json:"content_status"`
	CompletedStatus string    `json:"completed_status"`
	Messages        []Message `json:"messages"`
	CreatedAt       time.Time `json:"created_at"`
	LastUpdated     time.Time `json:"last_updated"`
}

// NewDepositRecord creates a fresh record for an attempt against the given
// notification and account.
func NewDepositRecord(notificationID, accountID string) *DepositRecord {
	return &DepositRecord{
		ID:           uuid.New().String(),
		Repo:         accountID,
		Notification: notificationID,
	}
}

// AddMessage appends an audit entry to the record.
func (dr *DepositRecord) AddMessage(level, message string) {
	dr.Messages = append(dr.Messages, Message{
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// WasSuccessful reports whether this attempt delivered everything it set out
// to deliver. "none" counts as success for content and completion because a
// metadata-only deposit legitimately has neither.
func (dr *DepositRecord) WasSuccessful() bool {
	return dr.MetadataStatus == DepositStatusDeposited &&
		(dr.ContentStatus == DepositStatusDeposited || dr.ContentStatus == DepositStatusNone) &&
		(dr.CompletedStatus == DepositStatusDeposited || dr.CompletedStatus == DepositStatusNone)
}

// SoftFailed reports whether a previous attempt hit one of the permanent
// soft-failure classes, which means the notification is never retried.
func (dr *DepositRecord) SoftFailed() bool {
	return dr.MetadataStatus == DepositStatusInvalidXML ||
		dr.MetadataStatus == DepositStatusPayloadTooLarge
}

// LogMessage is one audit entry on a per-pass deposit log.
type LogMessage struct {
	Level         string    `json:"level"`
	Message       string    `json:"message"`
	Notification  string    `json:"notification,omitempty"`
	DepositRecord string    `json:"deposit_record,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// RepositoryDepositLog aggregates everything that happened to one account
// during one pass. Each pass writes an independent log document.
type RepositoryDepositLog struct {
	ID          string       `json:"id"`
	Repo        string       `json:"repo"` // account id
	Status      string       `json:"status"`
	Messages    []LogMessage `json:"messages"`
	CreatedAt   time.Time    `json:"created_at"`
	LastUpdated time.Time    `json:"last_updated"`
}

// NewRepositoryDepositLog starts a log for one pass over one account.
func NewRepositoryDepositLog(accountID string) *RepositoryDepositLog {
	return &RepositoryDepositLog{
		ID:   uuid.New().String(),
		Repo: accountID,
	}
}

// AddMessage appends an audit entry. notificationID and depositRecordID may
// be empty when the entry is not tied to a particular notification.
func (dl *RepositoryDepositLog) AddMessage(level, message, notificationID, depositRecordID string) {
	dl.Messages = append(dl.Messages, LogMessage{
		Level:         level,
		Message:       message,
		Notification:  notificationID,
		DepositRecord: depositRecordID,
		Timestamp:     time.Now(),
	})
}
