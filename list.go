package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lostatc/zielen/internal/config"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Tabulate all profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList()
		},
	}
}

func runList() error {
	entries, err := os.ReadDir(config.ProfilesRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	var rows [][]string

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		name := e.Name()
		dir := config.ProfileDir(name)

		info, err := config.LoadInfo(config.InfoFilePath(dir))
		if err != nil {
			rows = append(rows, []string{name, "?", "?", "unreadable", "-"})

			continue
		}

		profile, err := config.LoadProfile(config.ConfigFilePath(dir))
		if err != nil {
			rows = append(rows, []string{name, "?", "?", string(info.Status), "-"})

			continue
		}

		lastSync := "-"
		if !info.LastSync.IsZero() {
			lastSync = formatTime(info.LastSync)
		}

		rows = append(rows, []string{name, profile.LocalDir, profile.RemoteDir, string(info.Status), lastSync})
	}

	printTable(os.Stdout, []string{"PROFILE", "LOCAL", "REMOTE", "STATUS", "LAST SYNC"}, rows)

	return nil
}
