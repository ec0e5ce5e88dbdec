package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/target/aggregation-worker/config"
	"github.com/target/aggregation-worker/internal/bootstrap"
	"github.com/target/aggregation-worker/internal/data"
	"github.com/target/aggregation-worker/internal/domain/budgetkey"
	"github.com/target/aggregation-worker/internal/domain/model"
	httpx "github.com/target/aggregation-worker/internal/http"
	"github.com/target/aggregation-worker/internal/service"
)

const defaultMigrationTimeout = 5 * time.Minute

type migrateOptions struct {
	Timeout time.Duration
}

type getJobOptions struct {
	Key     string
	Query   string
	Timeout time.Duration
}

// reportOptions are shared by the budget and derive-key commands.
type reportOptions struct {
	File          string
	FilteringIDs  []uint64
	ReportingSite string
	Query         string
	Timeout       time.Duration
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func runGetJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseGetJobFlags(args)
	if err != nil {
		return err
	}
	if cmdCtx.Config.Queue.Backend != config.BackendPostgres {
		return fmt.Errorf("get-job reads Postgres job metadata, QUEUE_BACKEND=%s", cmdCtx.Config.Queue.Backend)
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		store := data.NewJobMetadataRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})
		meta, getErr := store.Get(ctx, opts.Key)
		if getErr != nil {
			return fmt.Errorf("get job %s: %w", opts.Key, getErr)
		}
		if meta == nil {
			return fmt.Errorf("job %s not found", opts.Key)
		}
		return writeJSON(cmdCtx.Out, httpx.NewJobView(meta), opts.Query)
	})
}

func runBudget(cmdCtx *commandContext, args []string) error {
	opts, err := parseReportFlags("budget", args)
	if err != nil {
		return err
	}
	reports, err := readReports(opts.File)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ledger, closeLedger, err := openLedger(ctx, cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeLedger(); cerr != nil {
			cmdCtx.Logger.Warn("close ledger failed", "error", cerr)
		}
	}()

	svc, err := service.NewBudgetService(service.BudgetServiceOptions{Ledger: ledger, Keys: budgetkey.NewFactory()})
	if err != nil {
		return err
	}
	keys, err := svc.GetBudget(ctx, service.BudgetQuery{
		Reports:       reports,
		FilteringIDs:  opts.FilteringIDs,
		ReportingSite: opts.ReportingSite,
	})
	if err != nil {
		return fmt.Errorf("get budget: %w", err)
	}
	return writeJSON(cmdCtx.Out, httpx.BudgetResponse{Keys: keys}, opts.Query)
}

func runDeriveKey(cmdCtx *commandContext, args []string) error {
	opts, err := parseReportFlags("derive-key", args)
	if err != nil {
		return err
	}
	reports, err := readReports(opts.File)
	if err != nil {
		return err
	}

	keys, err := budgetkey.NewFactory().DeriveAll(reports, opts.FilteringIDs, opts.ReportingSite)
	if err != nil {
		return fmt.Errorf("derive keys: %w", err)
	}
	return writeJSON(cmdCtx.Out, keys, opts.Query)
}

// readReports accepts either a single report object or an array of reports. "-" reads stdin.
func readReports(path string) ([]model.ReportAttributes, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read reports: %w", err)
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var one model.ReportAttributes
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		return []model.ReportAttributes{one}, nil
	}

	var many []model.ReportAttributes
	if err := json.Unmarshal([]byte(trimmed), &many); err != nil {
		return nil, fmt.Errorf("decode reports: %w", err)
	}
	if len(many) == 0 {
		return nil, errors.New("report file contains no reports")
	}
	return many, nil
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{}
	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}

	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func parseGetJobFlags(args []string) (getJobOptions, error) {
	fs := flag.NewFlagSet("get-job", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := getJobOptions{}
	fs.StringVar(&opts.Key, "key", "", "Job request id")
	fs.StringVar(&opts.Query, "query", "", "JMESPath projection applied to the output")
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration for the lookup")

	if err := fs.Parse(args); err != nil {
		return getJobOptions{}, err
	}

	opts.Key = strings.TrimSpace(opts.Key)
	if opts.Key == "" {
		return getJobOptions{}, errors.New("--key is required")
	}
	if opts.Timeout <= 0 {
		return getJobOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseReportFlags(name string, args []string) (reportOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := reportOptions{}
	var filteringIDs string
	fs.StringVar(&opts.File, "file", "", "JSON file with one report or an array of reports (- for stdin)")
	fs.StringVar(&filteringIDs, "filtering-ids", "", "Comma separated filtering ids (default 0)")
	fs.StringVar(&opts.ReportingSite, "site", "", "Reporting site every report origin must belong to")
	fs.StringVar(&opts.Query, "query", "", "JMESPath projection applied to the output")
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration for ledger reads")

	if err := fs.Parse(args); err != nil {
		return reportOptions{}, err
	}

	if strings.TrimSpace(opts.File) == "" {
		return reportOptions{}, errors.New("--file is required")
	}
	if opts.Timeout <= 0 {
		return reportOptions{}, errors.New("--timeout must be greater than zero")
	}

	ids, err := model.RequestInfo{
		JobParameters: map[string]string{model.JobParamFilteringIDs: filteringIDs},
	}.FilteringIDs()
	if err != nil {
		return reportOptions{}, fmt.Errorf("--filtering-ids: %w", err)
	}
	opts.FilteringIDs = ids
	return opts, nil
}
