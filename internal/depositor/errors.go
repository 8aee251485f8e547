package depositor

import (
	"fmt"
	"strings"

	"github.com/deepgreen/swordout/internal/db"
	"github.com/deepgreen/swordout/internal/sword"
)

// Deposit phases, used in error reporting and response filenames.
const (
	phaseMetadata = "metadata"
	phaseContent  = "content"
	phaseComplete = "complete"
	phasePackage  = "package"
)

// DepositError is a hard deposit failure. The account processor records a
// failure against the repository status and stops processing the account's
// remaining notifications for this pass.
type DepositError struct {
	Phase        string
	Account      string
	Notification string
	Err          error
}

func (e *DepositError) Error() string {
	return fmt.Sprintf("%s deposit failed for notification %s on account %s: %v",
		e.Phase, e.Notification, e.Account, e.Err)
}

func (e *DepositError) Unwrap() error {
	return e.Err
}

// softFailureStatus classifies an error document into one of the permanent
// soft-failure statuses, or "" when the failure is hard. The OPUS4 sword
// implementation signals invalid crosswalk XML and oversized payloads through
// its error_href; these are permanent for the notification but say nothing
// about the repository's availability.
//
// This is string-sniffing on error_href and deliberately kept behind one
// predicate so the classification can evolve.
func softFailureStatus(errDoc *sword.ErrorDocument) string {
	if errDoc == nil || errDoc.Href == "" {
		return ""
	}
	if !strings.Contains(errDoc.Href, "opus-repository") {
		return ""
	}
	if strings.Contains(errDoc.Href, "InvalidXml") {
		return db.DepositStatusInvalidXML
	}
	// the typo is OPUS4's, not ours
	if strings.Contains(errDoc.Href, "PayloadToLarge") {
		return db.DepositStatusPayloadTooLarge
	}
	return ""
}
