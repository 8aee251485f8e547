// Package alert notifies operators when an account is suspended. A failing
// account produces no further deposits until it is manually re-activated, so
// suspensions must not go unnoticed.
package alert

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// Config holds the SES alerting parameters.
type Config struct {
	Region string
	From   string
	To     string
}

// SESAlerter sends suspension alerts by email via AWS SES.
type SESAlerter struct {
	client *ses.Client
	from   string
	to     string
	logger *zap.Logger
}

// NewSESAlerter creates an alerter, loading the default AWS credential chain.
func NewSESAlerter(ctx context.Context, cfg Config, logger *zap.Logger) (*SESAlerter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &SESAlerter{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.From,
		to:     cfg.To,
		logger: logger,
	}, nil
}

// AccountSuspended reports that the account moved to failing after exhausting
// its retries.
func (a *SESAlerter) AccountSuspended(ctx context.Context, accountID string, retries int) error {
	subject := fmt.Sprintf("[swordout] deposit suspended for account %s", accountID)
	body := fmt.Sprintf(
		"SWORD deposit for account %s has been suspended after %d failed passes.\n"+
			"No further deposits will be attempted until the account is re-activated:\n\n"+
			"    swordctl activate -account %s\n",
		accountID, retries, accountID,
	)

	_, err := a.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(a.from),
		Destination: &types.Destination{ToAddresses: []string{a.to}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send suspension alert: %w", err)
	}

	a.logger.Info("suspension alert sent",
		zap.String("account_id", accountID),
		zap.String("to", a.to),
	)

	return nil
}
