package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sukria/koan-sub002/internal/admission"
	"github.com/sukria/koan-sub002/internal/assistant"
	"github.com/sukria/koan-sub002/internal/budget"
	"github.com/sukria/koan-sub002/internal/config"
	"github.com/sukria/koan-sub002/internal/history"
	"github.com/sukria/koan-sub002/internal/loop"
	"github.com/sukria/koan-sub002/internal/notify"
	"github.com/sukria/koan-sub002/internal/prompts"
	"github.com/sukria/koan-sub002/internal/scheduler"
	"github.com/sukria/koan-sub002/tui"
)

var (
	runRole      string
	planJSON     bool
	historyLimit int
	stopTimeout  string
	stopRoles    []string
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent loop until stopped",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runRole, "role", "run", "admission role to hold while running")
	rootCmd.AddCommand(runCmd)

	// plan command
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what the next iteration would do",
		Args:  cobra.NoArgs,
		RunE:  runPlan,
	}
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print the decision as JSON")
	rootCmd.AddCommand(planCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show current status",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	// usage command
	usageCmd := &cobra.Command{
		Use:   "usage",
		Short: "Show budget usage and the resulting mode",
		Args:  cobra.NoArgs,
		RunE:  runUsage,
	}
	rootCmd.AddCommand(usageCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent iterations",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of iterations to show")
	rootCmd.AddCommand(historyCmd)

	// check command
	checkCmd := &cobra.Command{
		Use:   "check [ROLE...]",
		Short: "Report whether roles are held by a live process",
		RunE:  runCheck,
	}
	rootCmd.AddCommand(checkCmd)

	// stop command
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop running roles, killing them after the timeout",
		Args:  cobra.NoArgs,
		RunE:  runStop,
	}
	stopCmd.Flags().StringVar(&stopTimeout, "timeout", "", "grace period before SIGKILL (default admission.shutdown_timeout)")
	stopCmd.Flags().StringSliceVar(&stopRoles, "role", []string{"run"}, "roles to stop")
	rootCmd.AddCommand(stopCmd)

	// prompts command
	promptsCmd := &cobra.Command{
		Use:   "prompts",
		Short: "List the iteration prompt templates in effect",
		Args:  cobra.NoArgs,
		RunE:  runPrompts,
	}
	rootCmd.AddCommand(promptsCmd)

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch TUI dashboard",
		Args:  cobra.NoArgs,
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadInstance()
	if err != nil {
		return err
	}
	root := cfg.General.InstanceRoot

	lease, err := admission.Acquire(root, runRole)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(); err != nil {
			slog.Warn("could not release lease", "role", runRole, "error", err)
		}
	}()
	// holding the lease means no loop is left to honour an old marker
	if err := admission.ClearStop(root); err != nil {
		return err
	}

	opts, err := loop.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	runner := &assistant.ExecRunner{
		Command: cfg.Assistant.Command,
		Timeout: config.Duration(cfg.Assistant.Timeout, 0),
	}

	logger := slog.Default()
	l := loop.New(opts, runner, logger)
	l.SetNotifier(notify.New(cfg.Notifications, logger))

	hist, err := history.Open(root)
	if err != nil {
		logger.Warn("iteration history disabled", "error", err)
	} else {
		defer hist.Close()
		l.SetHistory(hist)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("koan running", "instance", root, "role", runRole, "pid", os.Getpid())
	return l.Run(ctx)
}

func runPrompts(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadInstance()
	if err != nil {
		return err
	}
	metas, err := prompts.DefaultLoader(cfg.General.InstanceRoot).ListTemplates()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODES\tDESCRIPTION")
	for _, m := range metas {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, strings.Join(m.Modes, ","), m.Description)
	}
	return w.Flush()
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, settings, err := loadInstance()
	if err != nil {
		return err
	}

	planner := scheduler.NewPlanner(settings, cfg.Contemplative, slog.Default())
	planner.Sources = scheduler.PreviewSources(settings, slog.Default())
	runs := 0
	if state, err := budget.LoadState(cfg.General.InstanceRoot); err == nil {
		runs = state.IterationsInSession
	}
	d := planner.PlanIteration(cmd.Context(), scheduler.Input{
		InstanceRoot:  cfg.General.InstanceRoot,
		RunsCompleted: runs,
		Projects:      cfg.Projects,
	})

	if planJSON {
		data, err := d.JSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Action:\t%s\n", d.Action)
	fmt.Fprintf(w, "Mode:\t%s (%.1f%% available)\n", d.Mode, d.AvailablePct)
	if d.ProjectName != "" {
		fmt.Fprintf(w, "Project:\t%s\t%s\n", d.ProjectName, d.ProjectPath)
	}
	if d.Mission != "" {
		fmt.Fprintf(w, "Mission:\t%s\n", d.Mission)
	}
	fmt.Fprintf(w, "Focus:\t%s\n", d.FocusArea)
	fmt.Fprintf(w, "Reason:\t%s\n", d.Reason)
	if d.FocusRemaining != "" {
		fmt.Fprintf(w, "Focus left:\t%s\n", d.FocusRemaining)
	}
	if len(d.RecurringInjected) > 0 {
		fmt.Fprintf(w, "Would inject:\t%s\n", strings.Join(d.RecurringInjected, "; "))
	}
	if d.Error != "" {
		fmt.Fprintf(w, "Error:\t%s (known: %s)\n", d.Error, strings.Join(d.KnownProjects, ", "))
	}
	for _, warning := range d.Warnings {
		fmt.Fprintf(w, "Warning:\t%s\n", warning)
	}
	return w.Flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, settings, err := loadInstance()
	if err != nil {
		return err
	}
	snap := tui.Collect(cfg.General.InstanceRoot, settings, time.Now())
	fmt.Print(tui.RenderStatus(snap))
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, settings, err := loadInstance()
	if err != nil {
		return err
	}
	root := cfg.General.InstanceRoot

	tracker := budget.NewTracker(root, settings, slog.Default())
	if err := tracker.Refresh(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	snap := tracker.Snapshot()
	remaining := tracker.Remaining()
	decision := tracker.Decide()
	state := tracker.State()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WINDOW\tUSED\tREMAINING\tCONSUMED\tRESETS")
	fmt.Fprintf(w, "session\t%.1f%%\t%.1f%%\t%s\t%s\n", snap.SessionPct, remaining.Session,
		humanize.Comma(state.SessionConsumed), snap.SessionResetDisplay)
	fmt.Fprintf(w, "weekly\t%.1f%%\t%.1f%%\t%s\t%s\n", snap.WeeklyPct, remaining.Weekly,
		humanize.Comma(state.WeeklyConsumed), snap.WeeklyResetDisplay)
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nPolicy: %s · mode %s · %s\n", settings.Policy, decision.Mode, decision.Reason)
	fmt.Printf("Iterations this session: %d · estimated cost %.1f%% each\n",
		state.IterationsInSession, decision.IterationCost)

	if _, err := os.Stat(filepath.Join(root, history.FileName)); err != nil {
		return nil
	}
	hist, err := history.Open(root)
	if err != nil {
		return err
	}
	defer hist.Close()
	totals, err := hist.TotalsSince(state.WeeklyWindowStart)
	if err != nil {
		return err
	}
	fmt.Printf("This week: %d iterations, %d missions, %s tokens, %d quota pauses, %d errors\n",
		totals.Iterations, totals.MissionsRun, humanize.Comma(totals.TokensInput+totals.TokensOutput),
		totals.QuotaPauses, totals.Errors)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadInstance()
	if err != nil {
		return err
	}
	hist, err := history.Open(cfg.General.InstanceRoot)
	if err != nil {
		return err
	}
	defer hist.Close()

	iterations, err := hist.Recent(historyLimit)
	if err != nil {
		return err
	}
	if len(iterations) == 0 {
		fmt.Println("No iterations recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tACTION\tMODE\tPROJECT\tDURATION\tTOKENS\tOUTCOME\tMISSION")
	for _, it := range iterations {
		outcome := "ok"
		switch {
		case it.Error != "":
			outcome = "error: " + it.Error
		case it.QuotaExhausted:
			outcome = "quota"
		case it.FinishedAt == nil:
			outcome = "running"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			it.StartedAt.Local().Format("2006-01-02 15:04"),
			it.Action, it.Mode, it.Project,
			it.Duration().Round(time.Second),
			humanize.Comma(it.TokensInput+it.TokensOutput),
			outcome, it.Mission)
	}
	return w.Flush()
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	roles := args
	if len(roles) == 0 {
		roles = []string{"run"}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tSTATE\tPID\tPROBE")
	down := 0
	for _, role := range roles {
		live, err := admission.CheckLiveness(cfg.General.InstanceRoot, role)
		if err != nil {
			return err
		}
		state := "running"
		if !live.Running {
			state = "stopped"
			down++
		}
		pid := "-"
		if live.Holder.PID > 0 {
			pid = fmt.Sprint(live.Holder.PID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", role, state, pid, live.Method)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if down > 0 {
		return fmt.Errorf("%d of %d roles not running", down, len(roles))
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	value := stopTimeout
	if value == "" {
		value = cfg.Admission.ShutdownTimeout
	}
	timeout := config.Duration(value, 30*time.Second)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	results := admission.StopAll(ctx, cfg.General.InstanceRoot, stopRoles, timeout)
	var failed []error
	for _, r := range results {
		switch r.Outcome {
		case admission.StopNotRunning:
			fmt.Printf("%s: not running\n", r.Role)
		case admission.StopGraceful:
			fmt.Printf("%s: stopped (pid %d)\n", r.Role, r.PID)
		case admission.StopKilled:
			fmt.Printf("%s: killed after %s (pid %d)\n", r.Role, timeout, r.PID)
		default:
			fmt.Printf("%s: failed: %v\n", r.Role, r.Err)
			failed = append(failed, fmt.Errorf("%s: %w", r.Role, r.Err))
		}
	}
	return errors.Join(failed...)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, settings, err := loadInstance()
	if err != nil {
		return err
	}
	// the dashboard owns the terminal; keep log lines off it
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return tui.Run(tui.ModelConfig{Root: cfg.General.InstanceRoot, Settings: settings})
}
