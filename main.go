package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jcodybaker/conncheck/pkg/checker"
	"github.com/jcodybaker/conncheck/pkg/config"
	"github.com/jcodybaker/conncheck/pkg/postman"
	"github.com/jcodybaker/conncheck/pkg/report"
	"github.com/jcodybaker/conncheck/pkg/types/check"
)

// version is overridden via ldflags on release builds.
var version = "dev"

var opts struct {
	config  string
	outJSON string
	outCSV  string
	postman string
	env     string
	timeout time.Duration
	strict  bool
	verbose bool
	quiet   bool
}

var rootCmd = &cobra.Command{
	Use:     "conncheck",
	Short:   "Runs the configured API, database, and DNS checks and writes a report",
	Version: version,
	Run:     run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.config, "config", "config.example.json", "path to the check suite config")
	f.StringVar(&opts.outJSON, "out-json", "report.json", "where to write the JSON report")
	f.StringVar(&opts.outCSV, "out-csv", "report.csv", "where to write the CSV report")
	f.StringVar(&opts.postman, "postman", "", "Postman collection whose requests are appended to the checks")
	f.StringVar(&opts.env, "env", "", "Postman environment used for {{var}} substitution")
	f.DurationVar(&opts.timeout, "timeout", 0, "default per-check timeout, overriding the config")
	f.BoolVar(&opts.strict, "strict", false, "exit non-zero when any check does not pass")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress the console summary")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("running checks")
	}
}

func run(cmd *cobra.Command, _ []string) {
	start := time.Now()
	level := zerolog.InfoLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	ll := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	log.Logger = ll

	mysqlLogger := ll.With().Str("component", "mysql").Logger()
	mysql.SetLogger(&mysqlLogger)

	runUUID, err := uuid.NewRandom()
	if err != nil {
		log.Fatal().Err(err).Msg("generating run id")
	}
	ll = ll.With().Str("run_id", runUUID.String()).Logger()
	ctx := ll.WithContext(cmd.Context())

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatal().Err(err).Msg("reading hostname")
	}
	ll.Info().
		Str("hostname", hostname).
		Str("version", version).
		Str("config", opts.config).
		Msg("starting checks")

	cfg, err := config.Load(opts.config)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	if opts.timeout > 0 {
		cfg.Defaults.Timeout = check.Duration(opts.timeout)
	}
	if opts.postman != "" {
		cfg.Postman = &config.Postman{Collection: opts.postman, Environment: opts.env}
	} else if opts.env != "" && cfg.Postman != nil {
		cfg.Postman.Environment = opts.env
	}
	if err := cfg.Normalize(); err != nil {
		log.Fatal().Err(err).Msg("validating config")
	}

	defs := cfg.Checks
	if cfg.Postman != nil {
		pmDefs, err := postman.Load(cfg.Postman.Collection, cfg.Postman.Environment)
		if err != nil {
			log.Fatal().Err(err).Msg("loading postman collection")
		}
		defs = append(defs, pmDefs...)
	}

	var checkerOpts []checker.CheckerOption
	for _, def := range defs {
		f, err := checker.NewCheck(def)
		if err != nil {
			log.Fatal().Err(err).Str("check", def.Name).Msg("building check")
		}
		checkerOpts = append(checkerOpts, checker.WithCheck(def, f))
	}

	results, runErr := checker.NewChecker(checkerOpts...).Run(ctx)
	if runErr != nil {
		ll.Warn().Err(runErr).Msg("run interrupted, reporting partial results")
	}

	writers := []report.Writer{
		report.JSONWriter{Path: opts.outJSON},
		report.CSVWriter{Path: opts.outCSV},
	}
	for _, w := range writers {
		if err := w.Write(results); err != nil {
			log.Fatal().Err(err).Msg("writing report")
		}
	}

	if !opts.quiet {
		report.Summary(os.Stdout, results, opts.outJSON, opts.outCSV)
	}

	pass, fail, errored := countStatuses(results)
	ll.Info().
		Int("total", len(results)).
		Int("pass", pass).
		Int("fail", fail).
		Int("error", errored).
		Dur("duration", time.Since(start)).
		Msg("checks complete")

	if runErr != nil {
		os.Exit(1)
	}
	if opts.strict && (fail > 0 || errored > 0) {
		os.Exit(1)
	}
}

func countStatuses(results []check.Result) (pass, fail, errored int) {
	for _, r := range results {
		switch r.Status {
		case check.StatusPass:
			pass++
		case check.StatusFail:
			fail++
		default:
			errored++
		}
	}
	return pass, fail, errored
}
