package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"trade-journal-go/internal/analytics"
	"trade-journal-go/internal/config"
	"trade-journal-go/internal/database"
	"trade-journal-go/internal/logger"
	"trade-journal-go/internal/models"
	"trade-journal-go/internal/store"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	configDir  string
	user       string
	period     string
	timezone   string
	result     string
	grade      string
	session    string
	instrument string
	pretty     bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.LoadConfig(opts.configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger; the report goes to stdout so logs go to stderr
	cfg.Logger.Format = "console"
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := database.NewDatabase(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	if err := run(context.Background(), store.New(db, log), opts, time.Now(), os.Stdout); err != nil {
		log.Fatal("Failed to build report", zap.Error(err))
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("stats", pflag.ContinueOnError)
	fs.StringVarP(&opts.configDir, "config", "c", "./configs", "directory containing config.yml")
	fs.StringVarP(&opts.user, "user", "u", "", "owner id whose trades are summarized (required)")
	fs.StringVarP(&opts.period, "period", "p", "all", "week, month, year or all")
	fs.StringVar(&opts.timezone, "tz", "", "IANA timezone for daily buckets (default: profile timezone)")
	fs.StringVar(&opts.result, "result", "", "only trades with this result")
	fs.StringVar(&opts.grade, "grade", "", "only trades with this setup grade")
	fs.StringVar(&opts.session, "session", "", "only trades in this session")
	fs.StringVar(&opts.instrument, "instrument", "", "only instruments containing this text")
	fs.BoolVar(&opts.pretty, "pretty", false, "indent the JSON output")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.user == "" {
		return opts, fmt.Errorf("--user is required")
	}
	if err := opts.filter().Validate(); err != nil {
		return opts, fmt.Errorf("invalid filter: %w", err)
	}
	return opts, nil
}

func (o options) filter() models.TradeFilter {
	return models.TradeFilter{
		Result:     models.Result(o.result),
		Grade:      models.Grade(o.grade),
		Session:    models.Session(o.session),
		Instrument: strings.TrimSpace(o.instrument),
	}
}

// run loads the owner's trades and writes the summary as JSON to out.
func run(ctx context.Context, st *store.Store, opts options, now time.Time, out io.Writer) error {
	filter := opts.filter()

	loc := time.UTC
	if opts.timezone != "" {
		l, err := time.LoadLocation(opts.timezone)
		if err != nil {
			return fmt.Errorf("unknown timezone %q: %w", opts.timezone, err)
		}
		loc = l
	} else if p, err := st.GetProfile(ctx, opts.user); err == nil {
		loc = p.Location()
	}

	trades, err := st.List(ctx, opts.user, models.TradeFilter{})
	if err != nil {
		return err
	}

	summary := analytics.Compute(trades, analytics.Options{
		Period:   analytics.ParsePeriod(opts.period),
		Filter:   filter,
		Now:      now,
		Location: loc,
	})

	enc := json.NewEncoder(out)
	if opts.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(summary)
}
