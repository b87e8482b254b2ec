package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"coursedump/pkg/checkpoint"
	"coursedump/pkg/config"
	"coursedump/pkg/crawl"
	"coursedump/pkg/credentials"
	"coursedump/pkg/extract"
	"coursedump/pkg/journal"
	"coursedump/pkg/logger"
	"coursedump/pkg/models"
	"coursedump/pkg/paginate"
	"coursedump/pkg/policy"
	"coursedump/pkg/ratelimit"
	"coursedump/pkg/remote"
	"coursedump/pkg/retry"
	"coursedump/pkg/storage"
	"coursedump/pkg/ui"
	"coursedump/pkg/ui/tui"
)

var (
	// Crawl command flags
	outputDir      string
	rateLimitDelay time.Duration
	startIndex     int
	scope          string
	resumeRun      bool
	forceRestart   bool
	nonInteractive bool
	onFailure      string
	maxFailures    int
	concurrent     int
	journalPath    string
	noCheckpoint   bool
	checkpointFile string
	textExtension  string
	useTUI         bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Archive every reachable course, project and message thread",
	Long: `Walk the content tree of the platform and write every file into the output
directory, mirroring the tree as folders.

The position of the last dispatched entry is checkpointed after every step.
When a checkpoint exists you are asked whether to resume; --resume and
--force-restart answer that question up front. Ctrl+C stops the run and keeps
the checkpoint.`,
	Example: `  # Archive everything into ./archive
  coursedump crawl --output ./archive

  # Continue an interrupted run without asking
  coursedump crawl --resume

  # Only folders and courses, starting at top-level entry 4
  coursedump crawl --scope containers-only --start-index 4

  # Unattended run that skips broken entries
  coursedump crawl --non-interactive --on-failure continue`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl(cmd)
	},
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default: ./output)")
	crawlCmd.Flags().DurationVar(&rateLimitDelay, "rate-limit-delay", 0, "pause before every remote listing step, e.g. 500ms")
	crawlCmd.Flags().IntVar(&startIndex, "start-index", 0, "skip top-level entries before this index")
	crawlCmd.Flags().StringVar(&scope, "scope", "", "all, containers-only or leaf-messages-only")
	crawlCmd.Flags().BoolVar(&resumeRun, "resume", false, "resume from the saved checkpoint without asking")
	crawlCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "discard the saved checkpoint and start over")
	crawlCmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "never prompt; apply --on-failure to every failure")
	crawlCmd.Flags().StringVar(&onFailure, "on-failure", "", "interactive, continue or abort")
	crawlCmd.Flags().IntVar(&maxFailures, "max-failures", 0, "abort after this many failures in a row (0 disables)")
	crawlCmd.Flags().IntVar(&concurrent, "concurrent", 0, "parallel attachment downloads per entry")
	crawlCmd.Flags().StringVar(&journalPath, "journal", "", "record writes and failures in this SQLite file")
	crawlCmd.Flags().BoolVar(&noCheckpoint, "no-checkpoint", false, "do not read or write a checkpoint")
	crawlCmd.Flags().StringVar(&checkpointFile, "checkpoint", "", "checkpoint file (default: <output>/saved_progress_state.txt)")
	crawlCmd.Flags().StringVar(&textExtension, "text-extension", "", "extension for extracted text files (default: .md)")
	crawlCmd.Flags().BoolVar(&useTUI, "tui", false, "show a live dashboard instead of the progress line")

	crawlCmd.MarkFlagsMutuallyExclusive("resume", "force-restart")
}

// crawlFlags builds the config override map from the flags the user set
func crawlFlags(cmd *cobra.Command) map[string]interface{} {
	flags := globalFlags(cmd)
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if cmd.Flags().Changed("rate-limit-delay") {
		flags["rate-limit-delay"] = rateLimitDelay
	}
	if cmd.Flags().Changed("start-index") {
		flags["start-index"] = startIndex
	}
	if scope != "" {
		flags["scope"] = scope
	}
	if onFailure != "" {
		flags["on-failure"] = onFailure
	}
	if cmd.Flags().Changed("max-failures") {
		flags["max-failures"] = maxFailures
	}
	if concurrent > 0 {
		flags["concurrent"] = concurrent
	}
	if journalPath != "" {
		flags["journal"] = journalPath
	}
	if noCheckpoint {
		flags["no-checkpoint"] = true
	}
	if checkpointFile != "" {
		flags["checkpoint"] = checkpointFile
	}
	if textExtension != "" {
		flags["text-extension"] = textExtension
	}
	return flags
}

func runCrawl(cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, crawlFlags(cmd))
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		return err
	}

	log, closeLog, err := crawlLogger(cfg)
	if err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		return err
	}
	defer closeLog()
	logger.SetLogger(log)
	log.WithField("version", version).Info("coursedump starting")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limiter := ratelimit.NewDelay(cfg.Crawl.RateLimitDelay)
	site, client, err := connect(cfg, limiter, log)
	if err != nil {
		return err
	}

	writer, err := storage.NewWriter(cfg.Output.BaseDirectory, cfg.EffectiveMaxPathLength(), cfg.Output.OverflowFolder, log)
	if err != nil {
		ui.PrintError("Failed to prepare output directory", err.Error())
		return err
	}

	var store checkpoint.Store = checkpoint.Disabled{}
	var resume checkpoint.Position
	if cfg.Checkpoint.Enabled {
		fs := checkpoint.NewFileStore(cfg.CheckpointPath(), log)
		resume, err = resolveResume(fs, cfg.Crawl.Resume)
		if err != nil {
			return err
		}
		store = fs
	}

	// The dashboard owns the terminal, so no failure prompt can be shown
	if nonInteractive || useTUI {
		if err := forceNonInteractive(&cfg.Policy); err != nil {
			ui.PrintError("Invalid failure policy", err.Error())
			return err
		}
	}
	pol, err := policy.New(cfg.Policy, os.Stdin, os.Stdout)
	if err != nil {
		ui.PrintError("Invalid failure policy", err.Error())
		return err
	}

	var observers crawl.Observers
	var progress *ui.Progress
	var dashboard *tui.TUI
	if useTUI {
		dashboard = tui.New(cancel)
		observers = append(observers, dashboard)
	} else {
		progress = ui.NewProgress(os.Stdout, verbose)
		observers = append(observers, progress)
	}

	var runJournal *journal.Journal
	if cfg.Journal.Enabled {
		runJournal, err = journal.Open(cfg.JournalPath(), log)
		if err != nil {
			ui.PrintError("Failed to open journal", err.Error())
			return err
		}
		defer runJournal.Close()
		if _, err := runJournal.BeginRun(ctx, resume, cfg.Crawl.StartIndex, cfg.Crawl.Scope); err != nil {
			return err
		}
		observers = append(observers, runJournal)
	}

	setTotal := func(n int) {
		if dashboard != nil {
			dashboard.SetTotal(n)
		} else {
			progress.SetTotal(n)
		}
	}

	engine, err := newEngine(cfg, site, client, engineParts{
		writer:   writer,
		store:    store,
		limiter:  limiter,
		policy:   pol,
		observer: observers,
		onTotal:  setTotal,
	}, log)
	if err != nil {
		return err
	}

	if len(resume) > 0 && !useTUI {
		ui.PrintInfo("Resuming from", resume.String())
	}

	var result *crawl.Result
	var runErr error
	if dashboard != nil {
		result, runErr = traverseWithDashboard(ctx, dashboard, engine, site.Root(), resume)
	} else {
		ui.PrintHighlight("[ARCHIVING " + cfg.Remote.BaseURL + "]")
		result, runErr = engine.Traverse(ctx, site.Root(), resume)
		progress.Complete(result)
	}

	if runJournal != nil {
		if err := runJournal.FinishRun(context.Background(), result); err != nil {
			log.WithError(err).Warn("Failed to finish journal run")
		}
	}

	logger.LogRunSummary(log, result.Complete, result.Aborted, result.Counts())

	if cfg.Notifications.Enabled {
		ui.NewNotifier(cfg.Notifications.OnComplete, cfg.Notifications.OnAbort).NotifyRun(result, runErr)
	}

	if runErr != nil {
		if errors.Is(runErr, crawl.ErrAborted) {
			if cfg.Checkpoint.Enabled && !result.CheckpointDisabled {
				ui.PrintInfo("Checkpoint", cfg.CheckpointPath())
			}
			return runErr
		}
		log.WithError(runErr).Error("Crawl failed")
		ui.PrintError("Crawl failed", runErr.Error())
		return runErr
	}
	return nil
}

// traverseWithDashboard runs the traversal next to the bubbletea program and
// waits for both
func traverseWithDashboard(ctx context.Context, dashboard *tui.TUI, engine *crawl.Engine, root models.Node, resume checkpoint.Position) (*crawl.Result, error) {
	tuiDone := make(chan error, 1)
	go func() {
		tuiDone <- dashboard.Start()
	}()

	if len(resume) > 0 {
		dashboard.LogInfo("Resuming from %s", resume)
	}
	result, err := engine.Traverse(ctx, root, resume)
	dashboard.Finish(result, err)

	if tuiErr := <-tuiDone; tuiErr != nil {
		logger.WithError(tuiErr).Error("Dashboard failed")
	}
	return result, err
}

// connect builds the HTTP client and site lister for the configured platform.
// The site waits on limiter between catalog pages.
func connect(cfg *config.Config, limiter ratelimit.Limiter, log logger.Logger) (*remote.Site, *remote.Client, error) {
	session, err := loadSession(cfg.Remote.Profile)
	if err != nil {
		ui.PrintError("No session found", err.Error())
		fmt.Println("\nTo store a session cookie, run:")
		fmt.Println("  coursedump session set")
		fmt.Println("\nOr export it for a single run:")
		fmt.Printf("  export %s='...'\n", credentials.EnvSessionCookie)
		return nil, nil, err
	}

	return newSite(cfg, session, limiter, log)
}

// newSite builds the HTTP client and site lister for a session
func newSite(cfg *config.Config, session *credentials.Session, limiter ratelimit.Limiter, log logger.Logger) (*remote.Site, *remote.Client, error) {
	userAgent := cfg.Remote.UserAgent
	if session.UserAgent != "" {
		userAgent = session.UserAgent
	}

	client, err := remote.NewClient(remote.ClientOptions{
		BaseURL:     cfg.Remote.BaseURL,
		UserAgent:   userAgent,
		Timeout:     cfg.Remote.Timeout,
		Cookie:      session.Cookie,
		Retry:       retry.FromSettings(cfg.Retry, log),
		Logger:      log,
		MaxFileSize: cfg.Download.MaxFileSize,
	})
	if err != nil {
		ui.PrintError("Failed to create client", err.Error())
		return nil, nil, err
	}

	opts := remote.SiteOptionsFromConfig(cfg.Remote)
	opts.Limiter = limiter
	opts.Logger = log
	return remote.NewSite(client, opts), client, nil
}

// engineParts are the run-specific collaborators of the engine
type engineParts struct {
	writer   crawl.Writer
	store    checkpoint.Store
	limiter  ratelimit.Limiter
	policy   policy.Policy
	observer crawl.Observer
	onTotal  func(int)
}

// newEngine registers the extractors and assembles the traversal engine
func newEngine(cfg *config.Config, site *remote.Site, client *remote.Client, parts engineParts, log logger.Logger) (*crawl.Engine, error) {
	registry := crawl.NewRegistry()
	extract.Register(registry, client, extract.OptionsFromConfig(cfg, parts.limiter, log))

	return crawl.New(crawl.Config{
		Lister:      &totalLister{Lister: site, onTotal: parts.onTotal, opts: listOptions(cfg)},
		Registry:    registry,
		Writer:      parts.writer,
		Checkpoints: parts.store,
		Limiter:     parts.limiter,
		Policy:      parts.policy,
		Observer:    parts.observer,
		Logger:      log,
		Options:     crawlOptions(cfg),
	})
}

func loadSession(profile string) (*credentials.Session, error) {
	manager, err := credentials.NewManager(config.DataDir())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	return manager.Retrieve(profile)
}

// resolveResume decides where the run starts. It asks on a terminal when a
// checkpoint exists and neither --resume nor --force-restart was given.
func resolveResume(store *checkpoint.FileStore, resumeDefault bool) (checkpoint.Position, error) {
	if forceRestart {
		if err := store.Clear(); err != nil {
			return nil, fmt.Errorf("failed to clear checkpoint: %w", err)
		}
		return nil, nil
	}

	pos := store.Load()
	if len(pos) == 0 {
		return nil, nil
	}
	if resumeRun || nonInteractive || useTUI || !term.IsTerminal(int(os.Stdin.Fd())) {
		if resumeRun || resumeDefault {
			return pos, nil
		}
		return nil, nil
	}

	if askResume(os.Stdin, os.Stdout, pos) {
		return pos, nil
	}
	return nil, nil
}

func askResume(in io.Reader, out io.Writer, pos checkpoint.Position) bool {
	fmt.Fprintf(out, "A previous run stopped at %s.\n", pos)
	fmt.Fprint(out, "Resume from there? [Y/n]: ")

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "" || answer == "y" || answer == "yes"
}

// forceNonInteractive replaces the interactive mode with its configured fallback
func forceNonInteractive(p *config.PolicyConfig) error {
	if p.Mode != "" && p.Mode != config.PolicyInteractive {
		return nil
	}
	fallback := p.NonInteractiveDecision
	if fallback == "" {
		fallback = config.PolicyContinue
	}
	d, err := policy.ParseDecision(fallback)
	if err != nil {
		return err
	}
	p.Mode = d.String()
	return nil
}

// crawlLogger builds the run logger. The dashboard owns the terminal, so in
// that mode logs only go to the configured file.
func crawlLogger(cfg *config.Config) (logger.Logger, func(), error) {
	if !useTUI {
		log, err := logger.New(&cfg.Logging)
		return log, func() {}, err
	}

	if cfg.Logging.File == "" {
		log, err := logger.NewWithWriter(io.Discard, cfg.Logging.Level)
		return log, func() {}, err
	}
	f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log, err := logger.NewWithWriter(f, cfg.Logging.Level)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return log, func() { f.Close() }, nil
}

func crawlOptions(cfg *config.Config) crawl.Options {
	return crawl.Options{
		StartIndex:    cfg.Crawl.StartIndex,
		Scope:         cfg.Crawl.Scope,
		TextExtension: cfg.Output.TextExtension,
		MaxPages:      cfg.Crawl.MaxPages,
		MaxEmptyPages: cfg.Crawl.MaxEmptyPages,
	}
}

func listOptions(cfg *config.Config) paginate.Options {
	return paginate.Options{
		MaxPages:      cfg.Crawl.MaxPages,
		MaxEmptyPages: cfg.Crawl.MaxEmptyPages,
	}
}

// totalLister reports the size of the root listing before the traversal
// walks it. The site collects the root catalog eagerly, so draining it here
// issues no extra requests.
type totalLister struct {
	crawl.Lister
	onTotal func(int)
	opts    paginate.Options
}

func (l *totalLister) List(ctx context.Context, node models.Node) (paginate.Page, error) {
	page, err := l.Lister.List(ctx, node)
	if err != nil || node.Kind != models.KindRoot || l.onTotal == nil {
		return page, err
	}

	nodes, err := paginate.Collect(ctx, page, l.opts)
	if err != nil {
		return nil, err
	}
	l.onTotal(len(nodes))
	return paginate.NewStatic(nodes), nil
}
