package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/satyaki-up/trendboard/internal/config"
	"github.com/satyaki-up/trendboard/internal/db"
	"github.com/satyaki-up/trendboard/internal/hierarchy"
	"github.com/satyaki-up/trendboard/internal/httpapi"
	"github.com/satyaki-up/trendboard/internal/issues"
	"github.com/satyaki-up/trendboard/internal/jira"
	"github.com/satyaki-up/trendboard/internal/jobs"
	"github.com/satyaki-up/trendboard/internal/logger"
	"github.com/satyaki-up/trendboard/internal/snapshot"
)

func main() {
	os.Exit(run())
}

type app struct {
	cfg   config.Config
	log   zerolog.Logger
	db    *sql.DB
	store snapshot.Store
}

func run() int {
	ctx := context.Background()

	cfg := config.Default()
	cwd, err := os.Getwd()
	if err == nil {
		found, err := config.Discover(cwd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: load %s: %v\n", config.FileName, err)
			return 2
		}
		if found != nil {
			cfg = *found
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return renderError(err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = db.DefaultPath()
	}

	root := flag.NewFlagSet("tb", flag.ContinueOnError)
	root.SetOutput(os.Stderr)
	dbPath := root.String("db", "", "SQLite database path")
	if err := root.Parse(os.Args[1:]); err != nil {
		return 1
	}
	args := root.Args()
	if len(args) == 0 {
		printUsage(cfg)
		return 1
	}
	if strings.TrimSpace(*dbPath) != "" {
		cfg.DBPath = *dbPath
	}

	log := logger.New(cfg.AppEnv, os.Stderr)

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open database: %v\n", err)
		return 1
	}
	defer database.Close()

	a := &app{cfg: cfg, log: log, db: database}
	if cfg.Store == config.StoreFile {
		a.store = snapshot.NewFileStore(cfg.FilePath, log)
	} else {
		a.store = snapshot.NewSQLStore(database)
	}

	switch args[0] {
	case "serve":
		return a.handleServe(args[1:])
	case "snapshot":
		return a.handleSnapshot(ctx, args[1:])
	case "history":
		return a.handleHistory(ctx, args[1:])
	case "field":
		return a.handleField(ctx, args[1:])
	case "help", "-h", "--help":
		printUsage(cfg)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", args[0])
		printUsage(cfg)
		return 1
	}
}

func (a *app) orchestrator() (*snapshot.Orchestrator, error) {
	if strings.TrimSpace(a.cfg.Jira.BaseURL) == "" {
		return nil, fmt.Errorf("%w: jira.base_url is not set", config.ErrInvalidConfig)
	}
	client := jira.NewClient(a.cfg.Jira, a.log)
	return snapshot.New(hierarchy.NewWalker(client), client, a.store, a.log, snapshot.WithWorkers(a.cfg.Snapshot.Workers)), nil
}

func (a *app) handleServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	addr := fs.String("addr", a.cfg.HTTPAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	orch, err := a.orchestrator()
	if err != nil {
		return renderError(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.Snapshot.Cron != "" {
		sch, err := jobs.NewScheduler(a.cfg.Snapshot.Cron, a.cfg.Snapshot.BaseJQL, orch, a.log)
		if err != nil {
			return renderError(fmt.Errorf("%w: snapshot.cron: %v", config.ErrInvalidConfig, err))
		}
		sch.Start()
		defer sch.Stop()
	}

	router := httpapi.NewRouter(a.cfg, a.log, httpapi.Deps{
		Snapshots: orch,
		Store:     a.store,
		Fields:    issues.NewService(a.db),
	})
	srv := &http.Server{Addr: *addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", *addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "error: serve: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "error: shutdown: %v\n", err)
			return 1
		}
	}
	return 0
}

func (a *app) handleSnapshot(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	jql := fs.String("jql", a.cfg.Snapshot.BaseJQL, "filter fragment ANDed with the theme label")
	modeArg := fs.String("mode", "all", "all|trend|git")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	mode, err := snapshot.ParseMode(*modeArg)
	if err != nil {
		return renderError(err)
	}
	orch, err := a.orchestrator()
	if err != nil {
		return renderError(err)
	}

	res, err := orch.Run(ctx, *jql, mode)
	if err != nil {
		return renderError(err)
	}
	if *jsonOut {
		printJSON(orch.Status())
		return 0
	}
	st := orch.Status()
	fmt.Printf("snapshot %s (%s): %d issues, %d with trend, %d with activity\n",
		res.RunID, res.Mode, st.TotalIssues, len(res.Trend), len(res.Activity))
	return 0
}

func (a *app) handleHistory(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	key := fs.String("issue", "", "only this issue")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	h, err := a.store.History(ctx)
	if err != nil {
		return renderError(err)
	}
	if *jsonOut {
		printJSON(h)
		return 0
	}

	if h.LastRun != nil {
		fmt.Printf("last run: %s\n", h.LastRun.Format(time.RFC3339))
	} else {
		fmt.Println("last run: never")
	}
	days := make([]string, 0, len(h.Snapshots))
	for d := range h.Snapshots {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		keys := make([]string, 0, len(h.Snapshots[d]))
		for k := range h.Snapshots[d] {
			if *key == "" || k == *key {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s\t%s\t%d\n", d, k, h.Snapshots[d][k].Progress)
		}
	}
	return 0
}

func (a *app) handleField(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "error: field needs a subcommand: set|show|history")
		return 2
	}
	svc := issues.NewService(a.db)
	switch args[0] {
	case "set":
		return handleFieldSet(ctx, svc, args[1:])
	case "show":
		return handleFieldShow(ctx, svc, args[1:])
	case "history":
		return handleFieldHistory(ctx, svc, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "error: unknown field command %q\n", args[0])
		return 2
	}
}

func handleFieldSet(ctx context.Context, svc *issues.Service, args []string) int {
	fs := flag.NewFlagSet("field set", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	key := fs.String("issue", "", "issue key, e.g. PAY-12")
	field := fs.String("field", "", "field name")
	value := fs.String("value", "", "JSON value; bare words are stored as strings")
	user := fs.String("user", os.Getenv("USER"), "author recorded in history")
	expectedVersion := fs.Int64("expected-version", -1, "optimistic concurrency check")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var expectedPtr *int64
	if *expectedVersion >= 0 {
		ev := *expectedVersion
		expectedPtr = &ev
	}

	fv, err := svc.SetField(ctx, *key, *field, parseValue(*value), *user, expectedPtr)
	if err != nil {
		return renderError(err)
	}
	if *jsonOut {
		printJSON(fv)
		return 0
	}
	fmt.Printf("set %s %s (v%d)\n", fv.IssueKey, fv.Field, fv.Version)
	return 0
}

func handleFieldShow(ctx context.Context, svc *issues.Service, args []string) int {
	fs := flag.NewFlagSet("field show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	key := fs.String("issue", "", "issue key")
	field := fs.String("field", "", "field name; all fields when empty")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *field != "" {
		fv, err := svc.Field(ctx, *key, *field)
		if err != nil {
			return renderError(err)
		}
		if *jsonOut {
			printJSON(fv)
			return 0
		}
		fmt.Printf("%s\t%s\t%v\tv%d\n", fv.IssueKey, fv.Field, fv.Value, fv.Version)
		return 0
	}

	all, err := svc.Fields(ctx)
	if err != nil {
		return renderError(err)
	}
	if *key != "" {
		fields, ok := all[*key]
		if !ok {
			return renderError(fmt.Errorf("%w: no fields for %s", issues.ErrNotFound, *key))
		}
		all = map[string]map[string]any{*key: fields}
	}
	if *jsonOut {
		printJSON(all)
		return 0
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		names := make([]string, 0, len(all[k]))
		for f := range all[k] {
			names = append(names, f)
		}
		sort.Strings(names)
		for _, f := range names {
			fmt.Printf("%s\t%s\t%v\n", k, f, all[k][f])
		}
	}
	return 0
}

func handleFieldHistory(ctx context.Context, svc *issues.Service, args []string) int {
	fs := flag.NewFlagSet("field history", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	key := fs.String("issue", "", "issue key; all issues when empty")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	entries, err := svc.History(ctx, *key)
	if err != nil {
		return renderError(err)
	}
	if *jsonOut {
		printJSON(entries)
		return 0
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\t%v -> %v\t%s\n", e.Timestamp.Format(time.RFC3339), e.IssueKey, e.Field, e.OldValue, e.NewValue, e.User)
	}
	return 0
}

func renderError(err error) int {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	switch {
	case errors.Is(err, issues.ErrInvalidInput), errors.Is(err, config.ErrInvalidConfig):
		return 2
	case errors.Is(err, issues.ErrNotFound):
		return 3
	case errors.Is(err, issues.ErrConflict), errors.Is(err, snapshot.ErrAlreadyRunning):
		return 4
	default:
		return 1
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// parseValue keeps JSON literals typed and stores anything else verbatim.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func printUsage(cfg config.Config) {
	fmt.Fprint(os.Stderr, `Usage:
  tb [--db PATH] serve [--addr :3000]
  tb [--db PATH] snapshot [--jql "project = PAY"] [--mode all|trend|git] [--json]
  tb [--db PATH] history [--issue PAY-1] [--json]
  tb [--db PATH] field set --issue PAY-1 --field confidence --value 80 [--user ana] [--expected-version N] [--json]
  tb [--db PATH] field show [--issue PAY-1] [--field confidence] [--json]
  tb [--db PATH] field history [--issue PAY-1] [--json]
`)
	if cfg.Path != "" {
		fmt.Fprintf(os.Stderr, "\nDiscovered config: %s\n", cfg.Path)
	}
	fmt.Fprintf(os.Stderr, "Store: %s\n", cfg.Store)
	if cfg.DBPath != "" {
		fmt.Fprintf(os.Stderr, "Default DB path: %s\n", cfg.DBPath)
	}
	fmt.Fprint(os.Stderr, `
trendboard.yaml format:
  db: .trendboard/trendboard.db
  jira:
    base_url: https://jira.example.com
    pat: <token>
  snapshot:
    base_jql: project = PAY
    cron: "0 6 * * 1-5"
`)
}
