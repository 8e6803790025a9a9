package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/artifact"
	"github.com/abdul-hamid-achik/qarun/packages/bugreport"
	"github.com/abdul-hamid-achik/qarun/packages/core/aggregate"
	"github.com/abdul-hamid-achik/qarun/packages/core/config"
	"github.com/abdul-hamid-achik/qarun/packages/core/env"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"github.com/abdul-hamid-achik/qarun/packages/core/runner"
	"github.com/abdul-hamid-achik/qarun/packages/core/scheduler"
	"github.com/abdul-hamid-achik/qarun/packages/db"
	"github.com/abdul-hamid-achik/qarun/packages/executor"
	"github.com/abdul-hamid-achik/qarun/packages/export/metrics"
	"github.com/abdul-hamid-achik/qarun/packages/http"
	"github.com/abdul-hamid-achik/qarun/packages/logging"
	"github.com/abdul-hamid-achik/qarun/packages/notify"
	"github.com/abdul-hamid-achik/qarun/packages/output"
	"github.com/abdul-hamid-achik/qarun/packages/suite"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <suite file|directory>...",
	Short: "Run test units from suite files",
	Long: `Run the test units defined in .qa.yaml suite files.

Units run on a bounded worker pool. Failing units are retried up to
--max-attempts times with the selected backoff; a unit that passes after
a failed attempt is reported as flaky. Every unit that ends in fail or
error produces a bug report under <output-dir>/bugs, one per distinct
failure fingerprint.

Examples:
  qarun run ./suites
  qarun run checkout.qa.yaml --env staging
  qarun run ./suites --category api,security --concurrency 8
  qarun run ./suites --max-attempts 3 --backoff exponential --backoff-delay 500ms
  qarun run ./suites --tags smoke --output junit --output-file report.xml
  qarun run ./suites --watch --metrics prometheus --metrics-port 9090`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond

	// recordTimeout bounds history writes and notifications after a run.
	recordTimeout = 30 * time.Second
)

var (
	runSelection selectionFlags
	runExecution executionFlags

	outputFlag     string
	outputFileFlag string
	reportersFlag  string
	watchFlag      bool
	logJSONFlag    bool
	logDirFlag     string

	// Metrics flags
	metricsFlag       string
	metricsPortFlag   int
	metricsFileFlag   string
	datadogAPIKeyFlag string
	datadogSiteFlag   string
	datadogTagsFlag   string

	// Notification flags
	notifyFlag       string
	notifyOnFlag     string
	slackWebhookFlag string
	slackChannelFlag string
	teamsWebhookFlag string
)

func init() {
	runSelection.register(runCmd)
	runExecution.register(runCmd)

	// Output flags
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("QARUN_OUTPUT", "console"), "Output format: console, json, junit, tap, html (env: QARUN_OUTPUT)")
	runCmd.Flags().StringVar(&outputFileFlag, "output-file", getEnvString("QARUN_OUTPUT_FILE", ""), "Write output to file (default: stdout) (env: QARUN_OUTPUT_FILE)")
	runCmd.Flags().StringVar(&reportersFlag, "reporters", getEnvString("QARUN_REPORTERS", ""), "Report formats also written to the output directory (comma-separated) (env: QARUN_REPORTERS)")
	runCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch suite files for changes and re-run")
	runCmd.Flags().BoolVar(&logJSONFlag, "log-json", getEnvBool("QARUN_LOG_JSON", false), "Write logs as JSON (env: QARUN_LOG_JSON)")
	runCmd.Flags().StringVar(&logDirFlag, "log-dir", getEnvString("QARUN_LOG_DIR", ""), "Write logs to a file in this directory instead of stderr (env: QARUN_LOG_DIR)")

	// Metrics flags
	runCmd.Flags().StringVar(&metricsFlag, "metrics", getEnvString("QARUN_METRICS", ""), "Metrics export format: prometheus, datadog, json (env: QARUN_METRICS)")
	runCmd.Flags().IntVar(&metricsPortFlag, "metrics-port", getEnvInt("QARUN_METRICS_PORT", 9090), "Port for the Prometheus metrics endpoint in watch mode (env: QARUN_METRICS_PORT)")
	runCmd.Flags().StringVar(&metricsFileFlag, "metrics-file", getEnvString("QARUN_METRICS_FILE", ""), "Output file for JSON metrics (default: <output-dir>/metrics.json) (env: QARUN_METRICS_FILE)")
	runCmd.Flags().StringVar(&datadogAPIKeyFlag, "datadog-api-key", getEnvString("DD_API_KEY", ""), "DataDog API key (env: DD_API_KEY)")
	runCmd.Flags().StringVar(&datadogSiteFlag, "datadog-site", getEnvString("DD_SITE", "datadoghq.com"), "DataDog site (env: DD_SITE)")
	runCmd.Flags().StringVar(&datadogTagsFlag, "datadog-tags", getEnvString("DD_TAGS", ""), "Comma-separated DataDog tags (env: DD_TAGS)")

	// Notification flags
	runCmd.Flags().StringVar(&notifyFlag, "notify", getEnvString("QARUN_NOTIFY", ""), "Notification service: slack, teams (env: QARUN_NOTIFY)")
	runCmd.Flags().StringVar(&notifyOnFlag, "notify-on", getEnvString("QARUN_NOTIFY_ON", ""), "When to notify: always, failure, success, recovery (env: QARUN_NOTIFY_ON)")
	runCmd.Flags().StringVar(&slackWebhookFlag, "slack-webhook", getEnvString("SLACK_WEBHOOK", ""), "Slack webhook URL (env: SLACK_WEBHOOK)")
	runCmd.Flags().StringVar(&slackChannelFlag, "slack-channel", getEnvString("SLACK_CHANNEL", ""), "Slack channel override (env: SLACK_CHANNEL)")
	runCmd.Flags().StringVar(&teamsWebhookFlag, "teams-webhook", getEnvString("TEAMS_WEBHOOK", ""), "Microsoft Teams webhook URL (env: TEAMS_WEBHOOK)")
}

// session holds everything that outlives a single run, so that watch mode
// can reuse it.
type session struct {
	cmd       *cobra.Command
	paths     []string
	cfg       *config.Config
	log       *logging.Logger
	env       *env.Environment
	registry  *executor.Registry
	artifacts artifact.Store
	generator *bugreport.Generator
	history   *db.Store
	notifier  *notify.Manager
	exporters []metrics.Exporter
	out       io.Writer
}

func runCommand(cmd *cobra.Command, args []string) error {
	fileConfig, err := loadConfig(runSelection.config)
	if err != nil {
		return err
	}
	cfg, err := runExecution.apply(fileConfig)
	if err != nil {
		return exitWith(ExitUsageError, err)
	}
	if _, err := output.New(outputFlag, output.Settings{}); err != nil {
		return exitWith(ExitUsageError, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.New(os.Stderr, logging.WithLevel(cfg.LogLevel), logging.WithJSON(logJSONFlag))
	if logDirFlag != "" {
		if log, err = logging.NewFile(logDirFlag, cfg.LogLevel); err != nil {
			return exitWith(ExitSetupError, err)
		}
	}

	s := &session{
		cmd:   cmd,
		paths: args,
		cfg:   cfg,
		log:   log,
		out:   cmd.OutOrStdout(),
	}
	defer s.close()

	if err := s.setup(ctx); err != nil {
		return err
	}

	if outputFileFlag != "" {
		f, err := os.Create(outputFileFlag)
		if err != nil {
			return exitWith(ExitSetupError, fmt.Errorf("cannot create output file: %w", err))
		}
		defer f.Close()
		s.out = f
	}

	if !watchFlag {
		ok, err := s.runOnce(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return exitWith(ExitInterrupted, nil)
		}
		if !ok {
			return exitWith(ExitTestFailure, nil)
		}
		return nil
	}
	return s.watch(ctx)
}

// setup builds the collaborators shared by every run of the session.
func (s *session) setup(ctx context.Context) error {
	environment, err := env.LoadEnvironment(s.cfg.DefaultEnvironment, s.cfg.Environments, runExecution.envFile)
	if err != nil {
		return exitWith(ExitConfigError, err)
	}
	s.env = environment

	resolver := env.NewResolver()
	resolver.SetVariables(environment.Variables)
	resolver.SetWarnFunc(func(format string, args ...any) {
		s.log.Warn(fmt.Sprintf(format, args...))
	})
	s.registry = newRegistry(s.cfg, resolver)

	artifactDir := s.cfg.ArtifactDir
	if artifactDir == "" {
		artifactDir = filepath.Join(s.cfg.OutputDir, "artifacts")
	}
	store, err := artifact.NewFileStore(artifactDir)
	if err != nil {
		return exitWith(ExitSetupError, err)
	}
	s.artifacts = store

	generator, err := newGenerator(s.cfg, environment)
	if err != nil {
		return exitWith(ExitConfigError, err)
	}
	s.generator = generator

	if s.cfg.HistoryDB != "" {
		history, err := db.Open(ctx, s.cfg.HistoryDB)
		if err != nil {
			return exitWith(ExitSetupError, err)
		}
		s.history = history
	}

	notifier, err := newNotifier(s.cfg)
	if err != nil {
		return exitWith(ExitUsageError, err)
	}
	if notifier != nil && s.history != nil {
		// Recovery detection survives restarts through the history database.
		if runs, err := s.history.RecentRuns(ctx, 1); err == nil && len(runs) > 0 {
			notifier.SetLastState(runs[0].Counts.Failed+runs[0].Counts.Errored == 0)
		}
	}
	s.notifier = notifier

	exporters, err := s.newMetricsExporters()
	if err != nil {
		return exitWith(ExitUsageError, err)
	}
	s.exporters = exporters
	return nil
}

func (s *session) close() {
	for _, exp := range s.exporters {
		_ = exp.Close()
	}
	if s.history != nil {
		_ = s.history.Close()
	}
	_ = s.log.Close()
}

// newRegistry registers the api and command executors. Each worker gets its
// own instances; the resolver is shared.
func newRegistry(cfg *config.Config, resolver *env.Resolver) *executor.Registry {
	registry := executor.NewRegistry()
	registry.Register(executor.APIName, func() (executor.Executor, error) {
		client := http.NewClient(http.WithTimeout(cfg.TimeoutDuration()))
		return executor.NewAPIExecutor(executor.WithHTTPClient(client), executor.WithResolver(resolver)), nil
	})
	registry.Register(executor.CommandName, func() (executor.Executor, error) {
		e, err := executor.NewCommandExecutor(executor.WithShell(cfg.Shell), executor.WithCommandResolver(resolver))
		if err != nil {
			return nil, err
		}
		return e, nil
	})
	return registry
}

// newGenerator applies the configured rules. The environment snapshot is
// taken once per session.
func newGenerator(cfg *config.Config, environment *env.Environment) (*bugreport.Generator, error) {
	extra := map[string]string{}
	for _, key := range []string{"baseUrl", "browser"} {
		if v, ok := environment.Variables[key]; ok {
			extra[key] = fmt.Sprint(v)
		}
	}
	opts := []bugreport.Option{
		bugreport.WithEnvironment(bugreport.SnapshotEnvironment(environment.Name, extra)),
	}
	if len(cfg.NormalizationRules) > 0 {
		specs := make([]bugreport.RuleSpec, 0, len(cfg.NormalizationRules))
		for _, r := range cfg.NormalizationRules {
			specs = append(specs, bugreport.RuleSpec{Pattern: r.Pattern, Replace: r.Replace})
		}
		rules, err := bugreport.CompileRules(specs)
		if err != nil {
			return nil, fmt.Errorf("normalizationRules: %w", err)
		}
		opts = append(opts, bugreport.WithRules(rules))
	}
	if len(cfg.ElevationRules) > 0 {
		opts = append(opts, bugreport.WithElevationRules(cfg.ElevationRules))
	}
	return bugreport.NewGenerator(opts...), nil
}

// newNotifier combines the notify flags with the config file. It returns nil
// when no service is enabled.
func newNotifier(cfg *config.Config) (*notify.Manager, error) {
	nc := config.NotifyConfig{}
	if cfg.Notify != nil {
		nc = *cfg.Notify
	}
	if notifyOnFlag != "" {
		nc.On = notifyOnFlag
	}
	if slackWebhookFlag != "" {
		nc.SlackWebhook = slackWebhookFlag
	}
	if slackChannelFlag != "" {
		nc.SlackChannel = slackChannelFlag
	}
	if teamsWebhookFlag != "" {
		nc.TeamsWebhook = teamsWebhookFlag
	}

	services := splitList(notifyFlag)
	if len(services) == 0 {
		// Without --notify every configured webhook is used.
		if nc.SlackWebhook != "" {
			services = append(services, "slack")
		}
		if nc.TeamsWebhook != "" {
			services = append(services, "teams")
		}
	}
	if len(services) == 0 {
		return nil, nil
	}

	notifyOn, err := notify.ParseNotifyOn(nc.On)
	if err != nil {
		return nil, err
	}
	manager := notify.NewManager(notifyOn)
	for _, service := range services {
		switch strings.ToLower(service) {
		case "slack":
			if nc.SlackWebhook == "" {
				return nil, fmt.Errorf("--slack-webhook is required when using --notify slack")
			}
			slackOpts := []notify.SlackOption{}
			if nc.SlackChannel != "" {
				slackOpts = append(slackOpts, notify.WithSlackChannel(nc.SlackChannel))
			}
			manager.AddNotifier(notify.NewSlackNotifier(nc.SlackWebhook, slackOpts...))
		case "teams":
			if nc.TeamsWebhook == "" {
				return nil, fmt.Errorf("--teams-webhook is required when using --notify teams")
			}
			manager.AddNotifier(notify.NewTeamsNotifier(nc.TeamsWebhook))
		default:
			return nil, fmt.Errorf("unknown notification service %q (expected slack or teams)", service)
		}
	}
	return manager, nil
}

func (s *session) newMetricsExporters() ([]metrics.Exporter, error) {
	var exporters []metrics.Exporter
	for _, format := range splitList(metricsFlag) {
		switch strings.ToLower(format) {
		case "prometheus":
			if watchFlag {
				prom := metrics.NewPrometheusExporter()
				addr, err := prom.Serve(fmt.Sprintf(":%d", metricsPortFlag))
				if err != nil {
					return nil, err
				}
				fmt.Fprintf(s.cmd.OutOrStdout(), "Prometheus metrics available at http://%s/metrics\n", addr)
				exporters = append(exporters, prom)
			} else {
				exporters = append(exporters, metrics.NewPrometheusExporter(
					metrics.WithPrometheusFile(filepath.Join(s.cfg.OutputDir, "metrics.prom")),
				))
			}
		case "datadog":
			ddOpts := []metrics.DataDogOption{}
			if datadogAPIKeyFlag != "" {
				ddOpts = append(ddOpts, metrics.WithDataDogAPIKey(datadogAPIKeyFlag))
			}
			if datadogSiteFlag != "" {
				ddOpts = append(ddOpts, metrics.WithDataDogSite(datadogSiteFlag))
			}
			if tags := splitList(datadogTagsFlag); len(tags) > 0 {
				ddOpts = append(ddOpts, metrics.WithDataDogTags(tags))
			}
			exporters = append(exporters, metrics.NewDataDogExporter(ddOpts...))
		case "json":
			path := metricsFileFlag
			if path == "" {
				path = filepath.Join(s.cfg.OutputDir, "metrics.json")
			}
			exporters = append(exporters, metrics.NewJSONExporter(
				metrics.WithJSONFile(path),
				metrics.WithJSONVersion(version),
			))
		default:
			return nil, fmt.Errorf("unknown metrics format %q (expected prometheus, datadog or json)", format)
		}
	}
	return exporters, nil
}

// runOnce loads the suites, runs the selected units and publishes the
// results. It reports whether no unit ended in fail or error.
func (s *session) runOnce(ctx context.Context) (bool, error) {
	units, err := loadUnits(s.paths, s.cfg, &runSelection)
	if err != nil {
		return false, err
	}
	if len(units) == 0 {
		return false, exitWith(ExitUsageError, errors.New("no units match the selection"))
	}

	runID := uuid.NewString()
	log := s.log.With("run_id", runID)

	primary, err := output.New(outputFlag, output.Settings{
		Writer:  s.out,
		Verbose: s.cfg.GetVerbose(),
		NoColor: s.cfg.GetNoColor(),
		Version: version,
	})
	if err != nil {
		return false, exitWith(ExitUsageError, err)
	}
	console, _ := primary.(*output.ConsoleFormatter)
	if console != nil {
		console.FormatHeader(len(units), s.cfg.Concurrency)
	}

	var collector *metrics.Collector
	if len(s.exporters) > 0 {
		collector = metrics.NewCollector(runID, s.exporters...)
	}

	sched := scheduler.NewScheduler(s.registry,
		scheduler.WithRunner(runner.NewRunner(
			runner.WithArtifactStore(s.artifacts),
			runner.WithLogger(log),
		)),
		scheduler.WithLogger(log),
		scheduler.WithRunID(runID),
		scheduler.WithIsolateCategories(s.cfg.GetIsolateCategories()),
		scheduler.WithDispatchRate(s.cfg.DispatchRate),
		scheduler.WithOnOutcome(func(o *model.Outcome) {
			if console != nil {
				console.Progress(o)
			}
			if collector != nil {
				collector.Record(o)
			}
		}),
	)

	rs, err := sched.Run(ctx, units, s.cfg.Concurrency)
	if err != nil {
		if errors.Is(err, model.ErrInvalidConcurrency) {
			return false, exitWith(ExitUsageError, err)
		}
		return false, exitWith(ExitParseError, err)
	}

	reports := s.generator.Generate(rs)

	// Publishing must finish even after an interrupt.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	history := s.record(pubCtx, rs, reports, log)
	if len(reports) > 0 {
		dir := filepath.Join(s.cfg.OutputDir, "bugs")
		paths, err := bugreport.NewWriter(dir, bugreport.WithHistory(history)).Write(reports)
		if err != nil {
			log.Error("writing bug reports failed", "error", err)
		} else {
			log.Info("bug reports written", "dir", dir, "files", len(paths))
		}
	}

	if err := primary.Export(rs, reports); err != nil {
		return false, exitWith(ExitSetupError, fmt.Errorf("error writing output: %w", err))
	}
	s.writeReporters(rs, reports, log)

	if collector != nil {
		if err := collector.Flush(rs); err != nil {
			log.Warn("exporting metrics failed", "error", err)
		}
	}

	if s.notifier != nil {
		summary := notify.NewRunSummary(rs, reports, s.env.Name)
		if _, err := s.notifier.Notify(pubCtx, summary); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to send notification: %v\n", err)
		}
	}

	return rs.Summary().OK(), nil
}

// record stores the run in the history database and returns what it knows
// about each reported fingerprint.
func (s *session) record(ctx context.Context, rs *aggregate.ResultSet, reports []*bugreport.BugReport, log *logging.Logger) map[string]bugreport.History {
	if s.history == nil {
		return nil
	}
	history, err := s.history.RecordRun(ctx, rs, s.env.Name, reports)
	if err != nil {
		log.Error("recording run history failed", "error", err)
		return nil
	}
	return history
}

// writeReporters writes every configured report format, except console, to
// <output-dir>/report.<ext>.
func (s *session) writeReporters(rs *aggregate.ResultSet, reports []*bugreport.BugReport, log *logging.Logger) {
	formats := s.cfg.Reporters
	if reportersFlag != "" {
		formats = splitList(reportersFlag)
	}
	for _, format := range formats {
		if strings.EqualFold(format, "console") {
			continue
		}
		if err := os.MkdirAll(s.cfg.OutputDir, 0755); err != nil {
			log.Error("creating output directory failed", "error", err)
			return
		}
		path := filepath.Join(s.cfg.OutputDir, "report"+output.Extension(format))
		if err := writeReport(path, format, rs, reports); err != nil {
			log.Error("writing report failed", "format", format, "error", err)
			continue
		}
		log.Info("report written", "format", format, "path", path)
	}
}

func writeReport(path, format string, rs *aggregate.ResultSet, reports []*bugreport.BugReport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	exp, err := output.New(format, output.Settings{Writer: f, NoColor: true, Version: version})
	if err != nil {
		f.Close()
		return err
	}
	if err := exp.Export(rs, reports); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// watch re-runs the suites whenever a suite file under the given paths is
// written, until the context is cancelled.
func (s *session) watch(ctx context.Context) error {
	if _, err := s.runOnce(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	watchedDirs := make(map[string]bool)
	for _, arg := range s.paths {
		info, err := os.Stat(arg)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			dir := filepath.Dir(arg)
			if !watchedDirs[dir] {
				_ = watcher.Add(dir)
				watchedDirs[dir] = true
			}
			continue
		}
		_ = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && !watchedDirs[path] {
				_ = watcher.Add(path)
				watchedDirs[path] = true
			}
			return nil
		})
	}

	fmt.Fprintf(s.cmd.OutOrStdout(), "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	var debounce <-chan time.Time
	var changed string
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) && suite.IsSuiteFile(event.Name) {
				changed = event.Name
				debounce = time.After(WatchDebounceDelay)
			}
		case <-debounce:
			debounce = nil
			fmt.Fprintf(s.cmd.OutOrStdout(), "\n\nFile changed: %s\nRe-running units...\n\n", changed)
			if _, err := s.runOnce(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			fmt.Fprintf(s.cmd.OutOrStdout(), "\nWatching for changes... (press Ctrl+C to stop)\n")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watcher error", "error", err)
		}
	}
}
