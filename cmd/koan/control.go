package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sukria/koan-sub002/internal/domain"
	"github.com/sukria/koan-sub002/internal/gates"
	"github.com/sukria/koan-sub002/internal/quota"
)

const defaultManualPause = time.Hour

func init() {
	pauseCmd := &cobra.Command{
		Use:   "pause [DURATION]",
		Short: "Pause the loop (default 1h)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPause,
	}
	rootCmd.AddCommand(pauseCmd)

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Clear any pause",
		Args:  cobra.NoArgs,
		RunE:  runResume,
	}
	rootCmd.AddCommand(resumeCmd)

	focusCmd := &cobra.Command{
		Use:   "focus",
		Short: "Restrict the loop to queued missions for a while",
	}
	focusCmd.AddCommand(&cobra.Command{
		Use:   "start DURATION [REASON...]",
		Short: "Enter focus mode",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFocusStart,
	})
	focusCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Leave focus mode",
		Args:  cobra.NoArgs,
		RunE:  runFocusStop,
	})
	rootCmd.AddCommand(focusCmd)
}

func parseDurationArg(args []string, fallback time.Duration) (time.Duration, error) {
	if len(args) == 0 {
		return fallback, nil
	}
	d, err := time.ParseDuration(args[0])
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration %q", args[0])
	}
	return d, nil
}

func runPause(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadInstance()
	if err != nil {
		return err
	}
	d, err := parseDurationArg(args, defaultManualPause)
	if err != nil {
		return err
	}
	now := time.Now()
	pauses := &quota.PauseStore{Root: cfg.General.InstanceRoot}
	rec, err := pauses.Pause(domain.PauseManual, now.Add(d), "", now)
	if err != nil {
		return err
	}
	fmt.Printf("Paused until %s\n", rec.ResumeAt.Local().Format("Mon Jan 2 15:04"))
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadInstance()
	if err != nil {
		return err
	}
	pauses := &quota.PauseStore{Root: cfg.General.InstanceRoot}
	rec, err := pauses.Read()
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Println("Not paused")
		return nil
	}
	if err := pauses.Clear(); err != nil {
		return err
	}
	fmt.Printf("Cleared %s pause\n", rec.Reason)
	return nil
}

func runFocusStart(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadInstance()
	if err != nil {
		return err
	}
	d, err := parseDurationArg(args[:1], 0)
	if err != nil {
		return err
	}
	fg := gates.FocusGate{Root: cfg.General.InstanceRoot}
	rec, err := fg.Start(d, strings.Join(args[1:], " "), time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Focus until %s\n", rec.ExpiresAt.Local().Format("15:04"))
	return nil
}

func runFocusStop(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadInstance()
	if err != nil {
		return err
	}
	fg := gates.FocusGate{Root: cfg.General.InstanceRoot}
	if err := fg.Stop(); err != nil {
		return err
	}
	fmt.Println("Focus mode off")
	return nil
}
