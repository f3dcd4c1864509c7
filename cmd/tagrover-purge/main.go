// Command tagrover-purge truncates every application table, for use
// against throwaway/dev databases only. Reinstates the original's
// scripts/purge_db.py as a first-class cmd/ binary, following the
// teacher's convention of shipping small operational tools alongside the
// main service under cmd/.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tagrover/tagrover/pkg/config"
)

var purgeTables = []string{
	"story_tags",
	"tag_proposals",
	"agent_runs",
	"summaries",
	"tags",
	"stories",
	"scraper_state",
	"users",
}

func main() {
	force := flag.Bool("force", false, "skip the interactive confirmation prompt")
	flag.Parse()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	if cfg.IsProduction() && !*force {
		fmt.Fprintln(os.Stderr, "refusing to purge a production database without -force")
		os.Exit(1)
	}

	if !*force && !confirm(cfg.DatabaseURL) {
		fmt.Fprintln(os.Stderr, "aborted")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer pool.Close()

	sqlText := "TRUNCATE TABLE " + strings.Join(purgeTables, ", ") + " RESTART IDENTITY CASCADE"
	if _, err := pool.Exec(ctx, sqlText); err != nil {
		fmt.Fprintln(os.Stderr, "truncate:", err)
		os.Exit(1)
	}
	fmt.Println("purged", len(purgeTables), "tables")
}

func confirm(dsn string) bool {
	fmt.Printf("this will TRUNCATE all tagrover tables on %s. type 'yes' to continue: ", dsn)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line) == "yes"
}
