// Command archivist is a CLI composition root over the archive
// orchestrator (C10) and the reversible-operation ledger (C9): a thin
// wrapper satisfying the literal contracts of spec.md's CLI surface
// (archive, timesheet, recovery), not additional core semantics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/auriora/calendar-archivist/internal/archive"
	"github.com/auriora/calendar-archivist/internal/association"
	"github.com/auriora/calendar-archivist/internal/audit"
	"github.com/auriora/calendar-archivist/internal/cache"
	"github.com/auriora/calendar-archivist/internal/db"
	"github.com/auriora/calendar-archivist/internal/events"
	"github.com/auriora/calendar-archivist/internal/logger"
	"github.com/auriora/calendar-archivist/internal/models"
	"github.com/auriora/calendar-archivist/internal/repository"
	"github.com/auriora/calendar-archivist/internal/reversible"
	"github.com/auriora/calendar-archivist/internal/uri"
)

const (
	exitSuccess = 0
	exitError   = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: archivist <archive|timesheet|recovery> ...")
		return exitUsage
	}

	logger.Initialize(getEnv("LOG_LEVEL", "warn"), false)

	database, err := openDatabase()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	defer database.Close()

	ctx := context.Background()

	switch args[0] {
	case "archive":
		return runArchiveCommand(ctx, database, args[1:], models.ArchivePurposeGeneral)
	case "timesheet":
		return runArchiveCommand(ctx, database, args[1:], models.ArchivePurposeTimesheet)
	case "recovery":
		return runRecoveryCommand(ctx, database, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		return exitUsage
	}
}

func runArchiveCommand(ctx context.Context, database *db.Database, args []string, purpose string) int {
	fs := flag.NewFlagSet(purpose, flag.ContinueOnError)
	userFlag := fs.String("user", "", "user id")
	dateFlag := fs.String("date", "today", "date range")
	travelFlag := fs.Bool("travel", false, "include travel appointments (timesheet only)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: archivist "+purpose+" <config-name> --user <id> --date <range>")
		return exitUsage
	}
	configName := fs.Arg(0)

	userID, err := parseUserID(*userFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitUsage
	}
	start, end, err := parseDateRange(*dateFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitUsage
	}

	configs := repository.NewArchiveConfigRepository(database.DB())
	all, err := configs.ListForUser(ctx, userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	var config *models.ArchiveConfiguration
	for _, c := range all {
		if c.Name == configName {
			config = c
			break
		}
	}
	if config == nil {
		fmt.Fprintf(os.Stderr, "error: no archive configuration named %q for user %d\n", configName, userID)
		return exitError
	}

	orchestrator, resolveRepo := buildOrchestrator(database)
	sourceRepo, err := resolveRepo(userID, config.SourceURI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	destRepo, err := resolveRepo(userID, config.DestinationURI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}

	params := archive.Params{
		UserID: userID, SourceURI: config.SourceURI, DestinationURI: config.DestinationURI,
		Start: start, End: end, Purpose: purpose,
		AllowOverlaps: config.AllowOverlaps, IncludeTravel: *travelFlag || config.IncludeTravel,
		SourceRepo: sourceRepo, DestRepo: destRepo,
	}

	var result *archive.Result
	if purpose == models.ArchivePurposeTimesheet {
		result, err = orchestrator.ArchiveTimesheet(ctx, params)
	} else {
		result, err = orchestrator.Archive(ctx, params)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}

	fmt.Printf("status=%s archived=%d overlaps=%d correlation_id=%s\n",
		result.Status, result.ArchivedCount, result.OverlapCount, result.CorrelationID)
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "  - %s\n", e)
	}
	if result.Status == "error" {
		return exitError
	}
	return exitSuccess
}

func runRecoveryCommand(ctx context.Context, database *db.Database, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: archivist recovery <list|show|reverse> ...")
		return exitUsage
	}

	auditSvc := audit.NewService(database.DB())
	reversibleSvc := reversible.NewService(database.DB(), auditSvc)

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("recovery list", flag.ContinueOnError)
		userFlag := fs.String("user", "", "user id")
		if err := fs.Parse(args[1:]); err != nil {
			return exitUsage
		}
		userID, err := parseUserID(*userFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitUsage
		}
		ops, err := reversibleSvc.ListOperations(ctx, reversible.ListFilter{UserID: userID, Limit: 50})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitError
		}
		for _, op := range ops {
			fmt.Printf("%d\t%s\t%v\treversed=%v\n", op.ID, op.OperationType, op.CreatedAt, op.IsReversed)
		}
		return exitSuccess

	case "show":
		fs := flag.NewFlagSet("recovery show", flag.ContinueOnError)
		if err := fs.Parse(args[1:]); err != nil {
			return exitUsage
		}
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: archivist recovery show <op-id>")
			return exitUsage
		}
		id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid operation id %q\n", fs.Arg(0))
			return exitUsage
		}
		op, err := reversibleSvc.GetOperation(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitError
		}
		fmt.Printf("id=%d type=%s user=%d reversed=%v\n",
			op.ID, op.OperationType, op.UserID, op.IsReversed)
		return exitSuccess

	case "reverse":
		fs := flag.NewFlagSet("recovery reverse", flag.ContinueOnError)
		userFlag := fs.String("user", "", "user id")
		reasonFlag := fs.String("reason", "", "reason for reversal")
		dryRunFlag := fs.Bool("dry-run", false, "simulate without writing changes")
		if err := fs.Parse(args[1:]); err != nil {
			return exitUsage
		}
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: archivist recovery reverse <op-id> [--reason <text>] [--dry-run]")
			return exitUsage
		}
		id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid operation id %q\n", fs.Arg(0))
			return exitUsage
		}
		userID, err := parseUserID(*userFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitUsage
		}

		reversers := map[string]reversible.ItemReverser{
			"appointment": &reversible.AppointmentReverser{Repo: repository.NewLocalRepository(database.DB())},
		}
		result, err := reversibleSvc.Reverse(ctx, id, userID, *reasonFlag, *dryRunFlag, reversers)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitError
		}
		if *dryRunFlag {
			fmt.Printf("success=%v dry_run=true items_to_reverse=%d\n", result.Success, result.ItemsToReverse)
		} else {
			fmt.Printf("success=%v reversed_items=%d failed_items=%d\n", result.Success, result.ReversedItems, result.FailedItems)
		}
		if !result.Success {
			return exitError
		}
		return exitSuccess

	default:
		fmt.Fprintf(os.Stderr, "unknown recovery subcommand %q\n", args[0])
		return exitUsage
	}
}

func buildOrchestrator(database *db.Database) (*archive.Orchestrator, func(userID int64, calendarURI string) (repository.AppointmentRepository, error)) {
	auditSvc := audit.NewService(database.DB())
	reversibleSvc := reversible.NewService(database.DB(), auditSvc)
	associationSvc := association.NewService(database.DB())
	actionLogs := repository.NewActionLogRepository(database.DB())

	eventPublisher, _ := events.NewPublisher(events.Config{URL: os.Getenv("NATS_URL")})

	raiseActionLog := func(ctx context.Context, log *models.ActionLog) (*models.ActionLog, error) {
		return actionLogs.Create(ctx, log)
	}
	orchestrator := archive.NewOrchestrator(auditSvc, reversibleSvc, associationSvc, eventPublisher, raiseActionLog)

	redisCache, err := cache.NewCache(cache.Config{
		Enabled: getEnv("REDIS_HOST", "") != "", Host: getEnv("REDIS_HOST", "localhost"),
		Port: getEnv("REDIS_PORT", "6379"), Password: getEnv("REDIS_PASSWORD", ""),
	})
	if err != nil {
		redisCache, _ = cache.NewCache(cache.Config{Enabled: false})
	}
	tokenCache := cache.NewTokenCache(redisCache)
	msgraphBaseURL := getEnv("MSGRAPH_BASE_URL", "https://graph.microsoft.com/v1.0")

	resolveRepo := func(userID int64, calendarURI string) (repository.AppointmentRepository, error) {
		parsed, err := uri.ParseResourceURI(calendarURI)
		if err != nil {
			migrated, migErr := uri.MigrateLegacyURI(calendarURI, "")
			if migErr != nil {
				return nil, fmt.Errorf("resolve calendar uri %q: %w", calendarURI, err)
			}
			parsed, err = uri.ParseResourceURI(migrated)
			if err != nil {
				return nil, fmt.Errorf("resolve calendar uri %q: %w", calendarURI, err)
			}
		}
		switch parsed.Scheme {
		case "local":
			return repository.NewLocalRepository(database.DB()), nil
		case "msgraph":
			token, ok, _ := tokenCache.Get(context.Background(), userID)
			if !ok {
				token = os.Getenv("MSGRAPH_ACCESS_TOKEN")
			}
			if token == "" {
				return nil, fmt.Errorf("no cached or configured access token for user %d", userID)
			}
			return repository.NewMSGraphRepository(msgraphBaseURL, token, parsed.Identifier), nil
		default:
			return nil, fmt.Errorf("unsupported calendar uri scheme %q", parsed.Scheme)
		}
	}

	return orchestrator, resolveRepo
}

func openDatabase() (*db.Database, error) {
	return db.NewDatabase(db.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "archivist"),
		Password: getEnv("DB_PASSWORD", "archivist"),
		DBName:   getEnv("DB_NAME", "calendar_archivist"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	})
}

// parseUserID accepts only a numeric id: name-to-id resolution would
// require a user directory this service does not own (identity is
// out of scope, §1).
func parseUserID(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("--user is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--user must be a numeric id: %q", raw)
	}
	return id, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// parseDateRange implements spec.md's CLI date-range grammar: named
// ranges (today, yesterday, last N days, last week, last month) and
// explicit "<date> to <date>" / "<date> - <date>" pairs.
func parseDateRange(raw string) (time.Time, time.Time, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch raw {
	case "today":
		return today, today.AddDate(0, 0, 1), nil
	case "yesterday":
		return today.AddDate(0, 0, -1), today, nil
	case "last week":
		weekday := int(today.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		startOfThisWeek := today.AddDate(0, 0, -(weekday - 1))
		return startOfThisWeek.AddDate(0, 0, -7), startOfThisWeek, nil
	case "last month":
		firstOfThisMonth := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		firstOfLastMonth := firstOfThisMonth.AddDate(0, -1, 0)
		return firstOfLastMonth, firstOfThisMonth, nil
	}

	if strings.HasPrefix(raw, "last ") && strings.HasSuffix(raw, " days") {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(raw, "last "), " days"))
		if err != nil || (n != 7 && n != 30) {
			return time.Time{}, time.Time{}, fmt.Errorf("unsupported range %q: N must be 7 or 30", raw)
		}
		return today.AddDate(0, 0, -n), today, nil
	}

	for _, sep := range []string{" to ", " - "} {
		if idx := strings.Index(raw, sep); idx >= 0 {
			start, err := parseDateLiteral(strings.TrimSpace(raw[:idx]))
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			end, err := parseDateLiteral(strings.TrimSpace(raw[idx+len(sep):]))
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			return start, end.AddDate(0, 0, 1), nil
		}
	}

	return time.Time{}, time.Time{}, fmt.Errorf("unrecognized date range %q", raw)
}

var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// parseDateLiteral accepts ISO (YYYY-MM-DD), D-M-Y, D-Mon[-Y], D/M/Y,
// D.M.Y, and "D M Y", with an omitted year defaulting to the current
// one and month accepting a number, short name, or full name.
func parseDateLiteral(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	now := time.Now().UTC()

	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}

	var fields []string
	switch {
	case strings.Contains(raw, "/"):
		fields = strings.Split(raw, "/")
	case strings.Contains(raw, "."):
		fields = strings.Split(raw, ".")
	case strings.Contains(raw, "-"):
		fields = strings.Split(raw, "-")
	default:
		fields = strings.Fields(raw)
	}

	if len(fields) < 2 || len(fields) > 3 {
		return time.Time{}, fmt.Errorf("unrecognized date literal %q", raw)
	}

	day, err := strconv.Atoi(fields[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized day in date literal %q", raw)
	}

	var month time.Month
	if m, err := strconv.Atoi(fields[1]); err == nil {
		month = time.Month(m)
	} else if mo, ok := monthNames[strings.ToLower(fields[1])]; ok {
		month = mo
	} else {
		return time.Time{}, fmt.Errorf("unrecognized month in date literal %q", raw)
	}

	year := now.Year()
	if len(fields) == 3 {
		y, err := strconv.Atoi(fields[2])
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognized year in date literal %q", raw)
		}
		if y < 100 {
			y += 2000
		}
		year = y
	}

	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}
