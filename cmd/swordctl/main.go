// swordctl is the operator CLI for the sword depositor: activate or
// deactivate deposit for an account, dump current statuses as CSV, and
// re-run a single notification deposit for debugging.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/deepgreen/swordout/internal/config"
	"github.com/deepgreen/swordout/internal/db"
	"github.com/deepgreen/swordout/internal/depositor"
	"github.com/deepgreen/swordout/internal/jper"
	"github.com/deepgreen/swordout/internal/observ"
	"github.com/deepgreen/swordout/internal/sword"
	"github.com/deepgreen/swordout/internal/tmpstore"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: swordctl <command> [flags]

commands:
  activate    -account <id>                     re-enable deposit for a suspended account
  deactivate  -account <id>                     suspend deposit for an account
  status-csv                                    write id,status for all sword-activated accounts to stdout
  log         -account <id>                     print the account's most recent pass log
  deposit     -account <id> -notification <id>  deposit one notification (debugging; -force bypasses the idempotence check)`)
}

func run(command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	switch command {
	case "activate":
		return setActivation(ctx, repo, args, true)
	case "deactivate":
		return setActivation(ctx, repo, args, false)
	case "status-csv":
		return statusCSV(ctx, repo)
	case "log":
		return latestLog(ctx, repo, args)
	case "deposit":
		return depositOne(ctx, cfg, repo, logger, args)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func setActivation(ctx context.Context, repo *db.Repository, args []string, activate bool) error {
	fs := flag.NewFlagSet("activation", flag.ExitOnError)
	accountID := fs.String("account", "", "account id")
	_ = fs.Parse(args)

	if *accountID == "" {
		return fmt.Errorf("-account is required")
	}

	rs, err := repo.GetRepositoryStatus(ctx, *accountID)
	if err != nil {
		return err
	}
	if rs == nil {
		return fmt.Errorf("no repository status for account: %s", *accountID)
	}

	if activate {
		rs.Activate()
	} else {
		rs.Deactivate()
	}

	if err := repo.SaveRepositoryStatus(ctx, rs); err != nil {
		return err
	}

	fmt.Printf("%s: status=%s retries=%d\n", *accountID, rs.Status, rs.Retries)
	return nil
}

func statusCSV(ctx context.Context, repo *db.Repository) error {
	accounts, err := repo.WithSwordActivated(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(os.Stdout)
	defer cw.Flush()

	if err := cw.Write([]string{"id", "status"}); err != nil {
		return err
	}

	for _, acc := range accounts {
		status := ""
		rs, err := repo.GetRepositoryStatus(ctx, acc.ID)
		if err != nil {
			return err
		}
		if rs != nil {
			status = rs.Status
		}
		if err := cw.Write([]string{acc.ID, status}); err != nil {
			return err
		}
	}

	return nil
}

func latestLog(ctx context.Context, repo *db.Repository, args []string) error {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	accountID := fs.String("account", "", "account id")
	_ = fs.Parse(args)

	if *accountID == "" {
		return fmt.Errorf("-account is required")
	}

	dl, err := repo.LatestDepositLog(ctx, *accountID)
	if err != nil {
		return err
	}
	if dl == nil {
		return fmt.Errorf("no deposit log for account: %s", *accountID)
	}

	fmt.Printf("pass %s (status=%s, %s)\n", dl.ID, dl.Status, dl.LastUpdated.Format(time.RFC3339))
	for _, m := range dl.Messages {
		line := fmt.Sprintf("%s [%s] %s", m.Timestamp.Format(time.RFC3339), m.Level, m.Message)
		if m.Notification != "" {
			line += " notification=" + m.Notification
		}
		if m.DepositRecord != "" {
			line += " deposit_record=" + m.DepositRecord
		}
		fmt.Println(line)
	}
	return nil
}

func depositOne(ctx context.Context, cfg *config.Config, repo *db.Repository, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("deposit", flag.ExitOnError)
	accountID := fs.String("account", "", "account id")
	notificationID := fs.String("notification", "", "notification id")
	force := fs.Bool("force", false, "bypass the idempotence and attempt-cap checks")
	_ = fs.Parse(args)

	if *accountID == "" || *notificationID == "" {
		return fmt.Errorf("-account and -notification are required")
	}

	acc, err := repo.GetAccount(ctx, *accountID)
	if err != nil {
		return err
	}
	if acc == nil {
		return fmt.Errorf("account not found: %s", *accountID)
	}
	if acc.SwordCollection == "" {
		return fmt.Errorf("sword is not activated for account: %s", *accountID)
	}

	jperCfg := jper.Config{
		BaseURL:      cfg.JPERBaseURL,
		RewriteHosts: cfg.ContentRewriteHosts,
		InternalHost: cfg.ContentInternalHost,
	}
	client := jper.New(jperCfg, acc.APIKey, logger)

	note, err := client.GetNotification(ctx, *notificationID)
	if err != nil {
		return err
	}
	if note == nil {
		return fmt.Errorf("notification not found: %s", *notificationID)
	}

	tmp, err := tmpstore.New(cfg.TmpDir)
	if err != nil {
		return fmt.Errorf("failed to create tmp store: %w", err)
	}

	defaultSince, err := time.Parse(time.RFC3339, cfg.DefaultSinceDate)
	if err != nil {
		return fmt.Errorf("invalid DEFAULT_SINCE_DATE: %w", err)
	}

	sources := func(apiKey string) depositor.NotificationSource {
		return depositor.NewJPERSource(jper.New(jperCfg, apiKey, logger))
	}
	conns := func(username, password string) depositor.SwordConnection {
		return sword.NewConnection(username, password, logger)
	}

	engine := depositor.New(repo, sources, conns, tmp, nil, nil, depositor.Config{
		DefaultSinceDate:   defaultSince,
		SinceDeltaDays:     cfg.SinceDeltaDays,
		RetryDelay:         cfg.RetryDelay,
		RetryLimit:         cfg.RetryLimit,
		MaxDepositAttempts: cfg.MaxDepositAttempts,
		StoreResponseData:  cfg.StoreResponseData,
		ResponseDir:        cfg.ResponseDir,
	}, logger)

	done, depositRecordID, err := engine.ProcessNotification(ctx, acc, note, depositor.NewJPERSource(client), *force)
	if err != nil {
		return err
	}

	fmt.Printf("deposit_done=%v deposit_record=%s\n", done, depositRecordID)
	return nil
}
