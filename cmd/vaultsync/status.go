package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/sync"
)

var (
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted baseline summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		baseline, err := a.state.LoadBaseline()
		if err != nil {
			return err
		}
		conflicts, err := a.state.ListConflicts()
		if err != nil {
			return err
		}

		both, localOnly, remoteOnly := 0, 0, 0
		for _, entry := range baseline.Entries {
			switch {
			case entry.HasLocal() && entry.HasRemote():
				both++
			case entry.HasLocal():
				localOnly++
			default:
				remoteOnly++
			}
		}

		fmt.Printf("vault:       %s\n", a.cfg.VaultDir)
		fmt.Printf("branch:      %s\n", a.cfg.Branch)
		if baseline.CommitID != "" {
			fmt.Printf("commit tip:  %s\n", baseline.CommitID)
		} else {
			fmt.Printf("commit tip:  %s\n", yellow("none (never synced)"))
		}
		fmt.Printf("baseline:    %d paths (%d synced, %d local-only, %d remote-only)\n",
			len(baseline.Entries), both, localOnly, remoteOnly)
		if len(conflicts) > 0 {
			fmt.Printf("conflicts:   %s\n", red(fmt.Sprintf("%d unresolved", len(conflicts))))
		} else {
			fmt.Printf("conflicts:   %s\n", green("none"))
		}
		return nil
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List unresolved conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		records, err := a.state.ListConflicts()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println(green("no unresolved conflicts"))
			return nil
		}
		for _, rec := range records {
			fmt.Printf("%s  %-28s %s (policy %s, seen %s)\n",
				red("!"), rec.Reason, rec.Path, rec.Policy, rec.Timestamp.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Resolve one recorded conflict by hand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		choice, _ := cmd.Flags().GetString("keep")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.acquireLock(); err != nil {
			return err
		}
		defer a.lock.Unlock()

		if err := a.engine.ResolveConflict(cmd.Context(), args[0], sync.ManualChoice(choice)); err != nil {
			return err
		}
		fmt.Printf("%s resolved %s (%s)\n", green("ok"), args[0], choice)
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the persisted sync log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		entries, err := a.state.ListLogs(limit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s  %-5s %s\n", e.CreatedAt, e.Level, e.Message)
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().String("keep", string(sync.ChoiceKeepBoth), "disposition: keep-local|keep-remote|keep-both")
	conflictsCmd.AddCommand(resolveCmd)
	logsCmd.Flags().Int("limit", 50, "max log lines to show")
}
