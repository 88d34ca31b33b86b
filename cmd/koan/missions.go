package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sukria/koan-sub002/internal/domain"
	"github.com/sukria/koan-sub002/internal/missions"
)

var (
	missionProject string
	missionAll     bool
)

func init() {
	missionCmd := &cobra.Command{
		Use:   "mission",
		Short: "Manage the mission queue in missions.md",
	}

	addCmd := &cobra.Command{
		Use:   "add TEXT...",
		Short: "Queue a mission",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runMissionAdd,
	}
	addCmd.Flags().StringVarP(&missionProject, "project", "p", "", "project owning the mission")
	missionCmd.AddCommand(addCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List missions by project",
		Args:  cobra.NoArgs,
		RunE:  runMissionList,
	}
	listCmd.Flags().BoolVar(&missionAll, "all", false, "include done missions")
	missionCmd.AddCommand(listCmd)

	nextCmd := &cobra.Command{
		Use:   "next",
		Short: "Show the mission the loop would pick next",
		Args:  cobra.NoArgs,
		RunE:  runMissionNext,
	}
	nextCmd.Flags().StringVarP(&missionProject, "project", "p", "", "only missions runnable for this project")
	missionCmd.AddCommand(nextCmd)

	sanitizeCmd := &cobra.Command{
		Use:   "sanitize",
		Short: "Drop unknown sections and merge duplicate headings",
		Args:  cobra.NoArgs,
		RunE:  runMissionSanitize,
	}
	missionCmd.AddCommand(sanitizeCmd)

	rootCmd.AddCommand(missionCmd)
}

func missionStore() (*missions.Store, []string, error) {
	cfg, _, err := loadInstance()
	if err != nil {
		return nil, nil, err
	}
	if missionProject != "" && len(cfg.Projects) > 0 {
		if _, ok := domain.FindProject(cfg.Projects, missionProject); !ok {
			return nil, nil, fmt.Errorf("unknown project %q (known: %s)",
				missionProject, strings.Join(domain.ProjectNames(cfg.Projects), ", "))
		}
	}
	return missions.NewStore(cfg.General.InstanceRoot, nil), cfg.Missions.ExtraSections, nil
}

func runMissionAdd(cmd *cobra.Command, args []string) error {
	store, _, err := missionStore()
	if err != nil {
		return err
	}
	entry := strings.Join(args, " ")
	if err := store.Enqueue(entry, missionProject); err != nil {
		return err
	}
	fmt.Printf("Queued: %s\n", missions.NormalizeEntry(entry))
	return nil
}

func runMissionList(cmd *cobra.Command, args []string) error {
	store, _, err := missionStore()
	if err != nil {
		return err
	}
	text, err := store.Load()
	if err != nil {
		return err
	}
	groups := missions.GroupByProject(text)
	if len(groups) == 0 {
		fmt.Println("No missions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tSTATE\tMISSION")
	for _, g := range groups {
		project := g.Project
		if project == "" {
			project = "-"
		}
		rows := []struct {
			state domain.MissionState
			list  []missions.Mission
		}{
			{domain.MissionInProgress, g.InProgress},
			{domain.MissionPending, g.Pending},
		}
		if missionAll {
			rows = append(rows, struct {
				state domain.MissionState
				list  []missions.Mission
			}{domain.MissionDone, g.Done})
		}
		for _, row := range rows {
			for _, m := range row.list {
				fmt.Fprintf(w, "%s\t%s\t%s\n", project, row.state, m.Text())
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if summary := pendingSummary(text); summary != "" {
		fmt.Println()
		fmt.Println(summary)
	}
	return nil
}

// pendingSummary is "N pending: a 2, b 1, untagged 3", empty when idle
func pendingSummary(text string) string {
	counts := missions.PendingByProject(text)
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return ""
	}
	var parts []string
	for _, name := range missions.ProjectNames(counts) {
		parts = append(parts, fmt.Sprintf("%s %d", name, counts[name]))
	}
	if n := counts[""]; n > 0 {
		parts = append(parts, fmt.Sprintf("untagged %d", n))
	}
	return fmt.Sprintf("%d pending: %s", total, strings.Join(parts, ", "))
}

func runMissionNext(cmd *cobra.Command, args []string) error {
	store, _, err := missionStore()
	if err != nil {
		return err
	}
	m, ok, err := store.PeekNext(missionProject, "")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No pending mission")
		return nil
	}
	owner := m.Owner
	if owner == "" {
		owner = "(untagged)"
	}
	fmt.Printf("%s: %s\n", owner, m.Text())
	return nil
}

func runMissionSanitize(cmd *cobra.Command, args []string) error {
	store, extra, err := missionStore()
	if err != nil {
		return err
	}
	report, err := store.Sanitize(extra)
	if err != nil {
		return err
	}
	if !report.Changed() {
		fmt.Println("missions.md is clean")
		return nil
	}
	for _, s := range report.Dropped {
		fmt.Printf("dropped section: %s\n", s)
	}
	for _, s := range report.Merged {
		fmt.Printf("merged heading: %s\n", s)
	}
	return nil
}
