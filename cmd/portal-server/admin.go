package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/marcus/portal/internal/api"
	"github.com/marcus/portal/internal/serverdb"
)

func runAdmin(args []string) {
	if len(args) == 0 {
		printAdminUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "audit":
		runAdminAudit(args[1:])
	case "prune":
		runAdminPrune(args[1:])
	case "migrate":
		runAdminMigrate(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage()
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: portal-server admin <command> [flags]

Commands:
  audit    List recent save attempts
  prune    Delete audit rows past their retention
  migrate  Apply pending schema migrations and print the version`)
}

func openDB(dbPath string) *serverdb.ServerDB {
	if dbPath == "" {
		dbPath = api.LoadConfig().ServerDBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

const dbFlagUsage = "path to server.db (default: from PORTAL_SERVER_DB_PATH or ./data/server.db)"

func runAdminAudit(args []string) {
	fs := flag.NewFlagSet("admin audit", flag.ExitOnError)
	outcome := fs.String("outcome", "", "only show one outcome (saved, bootstrap, unauthorized, bad_request, rate_limited, failed)")
	limit := fs.Int("limit", 20, "maximum rows")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	store := openDB(*dbPath)
	defer store.Close()

	events, err := store.ListSaveEvents(*outcome, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(events) == 0 {
		fmt.Println("no save attempts recorded")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOUTCOME\tSTATUS\tUSER\tIP\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", e.CreatedAt, e.Outcome, e.Status, e.Username, e.IP, e.Detail)
	}
	tw.Flush()
}

func runAdminPrune(args []string) {
	fs := flag.NewFlagSet("admin prune", flag.ExitOnError)
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	cfg := api.LoadConfig()
	store := openDB(*dbPath)
	defer store.Close()

	saves, err := store.CleanupSaveEvents(cfg.SaveEventRetention)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	limits, err := store.CleanupRateLimitEvents(cfg.RateLimitEventRetention)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("pruned %d save events and %d rate limit events\n", saves, limits)
}

func runAdminMigrate(args []string) {
	fs := flag.NewFlagSet("admin migrate", flag.ExitOnError)
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	// Open runs pending migrations.
	store := openDB(*dbPath)
	defer store.Close()

	fmt.Printf("schema version %d\n", store.SchemaVersion())
}
