// Command migrate-uris is a one-shot tool that upgrades archive
// configuration URIs still in the pre-account-context legacy form to
// the canonical scheme://account/namespace/identifier grammar,
// re-expressing the original calendar URI migration script's intent
// rather than translating it line for line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/auriora/calendar-archivist/internal/db"
	"github.com/auriora/calendar-archivist/internal/repository"
	"github.com/auriora/calendar-archivist/internal/uri"
)

func main() {
	account := flag.String("account", "", "account (email) to stamp onto migrated URIs")
	dryRun := flag.Bool("dry-run", false, "report what would change without writing")
	flag.Parse()

	if *account == "" {
		fmt.Fprintln(os.Stderr, "error: --account is required")
		os.Exit(2)
	}

	database, err := db.NewDatabase(db.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "archivist"),
		Password: getEnv("DB_PASSWORD", "archivist"),
		DBName:   getEnv("DB_NAME", "calendar_archivist"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	rows, err := database.DB().QueryContext(ctx, `SELECT id, user_id, source_uri, destination_uri FROM archive_configurations`)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()

	type row struct {
		id        int64
		userID    int64
		sourceURI string
		destURI   string
	}
	var allRows []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.userID, &r.sourceURI, &r.destURI); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		allRows = append(allRows, r)
	}
	if err := rows.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	configs := repository.NewArchiveConfigRepository(database.DB())
	migrated := 0
	for _, r := range allRows {
		newSource, sourceChanged := migrate(r.sourceURI, *account)
		newDest, destChanged := migrate(r.destURI, *account)
		if !sourceChanged && !destChanged {
			continue
		}

		fmt.Printf("config %d: %q -> %q, %q -> %q\n", r.id, r.sourceURI, newSource, r.destURI, newDest)
		migrated++
		if *dryRun {
			continue
		}

		config, err := configs.GetByID(ctx, r.id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: loading config %d: %v\n", r.id, err)
			continue
		}
		config.SourceURI = newSource
		config.DestinationURI = newDest
		if err := configs.Update(ctx, config); err != nil {
			fmt.Fprintf(os.Stderr, "error: updating config %d: %v\n", r.id, err)
		}
	}

	if *dryRun {
		fmt.Printf("%d configuration(s) would be migrated\n", migrated)
	} else {
		fmt.Printf("%d configuration(s) migrated\n", migrated)
	}
}

func migrate(rawURI, account string) (string, bool) {
	if rawURI == "" {
		return rawURI, false
	}
	migratedURI, err := uri.MigrateLegacyURI(rawURI, account)
	if err != nil || migratedURI == rawURI {
		return rawURI, false
	}
	return migratedURI, true
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
