package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/lostatc/zielen/internal/config"
	"github.com/lostatc/zielen/internal/setupwizard"
	"github.com/lostatc/zielen/internal/zerrors"
)

func newInitCmd() *cobra.Command {
	var (
		flagExclude   string
		flagTemplate  string
		flagAddRemote bool
	)

	cmd := &cobra.Command{
		Use:   "init profile_name",
		Short: "Create a new sync profile",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errUsage("init takes exactly one argument: profile_name")
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0], flagExclude, flagTemplate, flagAddRemote)
		},
	}

	cmd.Flags().StringVar(&flagExclude, "exclude", "", "path to an initial exclude-pattern file")
	cmd.Flags().StringVar(&flagTemplate, "template", "", "path to a config file supplying profile settings non-interactively")
	cmd.Flags().BoolVar(&flagAddRemote, "add-remote", false, "initialize from an existing remote tree rather than the local one")

	return cmd
}

// runInit creates (or resumes the creation of) a profile: spec §3's
// lifecycle start state is partial, and only flips to initialized once
// every persisted-state file exists and the first scan has succeeded
// (left for the first `sync` invocation, per §4.14's failure semantics
// for an interrupted init).
func runInit(name, excludePath, templatePath string, addRemote bool) error {
	if err := config.ValidateProfileName(name); err != nil {
		return zerrors.Input(err.Error(), nil)
	}

	dir := config.ProfileDir(name)
	infoPath := config.InfoFilePath(dir)

	if existing, err := config.LoadInfo(infoPath); err == nil {
		if existing.Status == config.StatusInitialized {
			return zerrors.Input(fmt.Sprintf("profile %q already exists", name), nil)
		}

		rootCC.Logger.Info("resuming interrupted init", "profile", name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return zerrors.Input(fmt.Sprintf("creating profile directory for %q", name), err)
	}

	profile, err := buildProfile(templatePath)
	if err != nil {
		return err
	}

	if profile.LocalDir == "" || profile.RemoteDir == "" {
		return zerrors.Input("LocalDir and RemoteDir must both be set (via --template)", nil)
	}

	absLocal, err := filepath.Abs(profile.LocalDir)
	if err != nil {
		return zerrors.Input("resolving LocalDir", err)
	}

	profile.LocalDir = absLocal

	if err := config.CheckOverlap(profile.LocalDir); err != nil {
		return zerrors.Input("checking for overlapping profiles", err)
	}

	if err := os.MkdirAll(profile.LocalDir, 0o755); err != nil {
		return zerrors.Input("creating local sync directory", err)
	}

	if err := config.WriteProfile(config.ConfigFilePath(dir), profile); err != nil {
		return zerrors.Input("writing profile config", err)
	}

	if excludePath != "" {
		data, err := os.ReadFile(excludePath)
		if err != nil {
			return zerrors.Input(fmt.Sprintf("reading exclude file %q", excludePath), err)
		}

		if err := os.WriteFile(config.ExcludeFilePath(dir), data, 0o644); err != nil {
			return zerrors.Input("writing profile exclude file", err)
		}
	}

	info := config.NewInfo(version, config.InitOpts{AddRemote: addRemote})
	if err := config.SaveInfo(infoPath, info); err != nil {
		return zerrors.Input("writing profile state", err)
	}

	rootCC.Statusf("Profile %q created in partial state; run `zielen sync %s` to complete setup.\n", name, name)

	return nil
}

// buildProfile assembles the new profile's settings: from --template when
// given, otherwise by interactively prompting (spec §4.15's setupwizard
// contract).
func buildProfile(templatePath string) (config.Profile, error) {
	if templatePath != "" {
		p, err := config.LoadProfile(templatePath)
		if err != nil {
			return config.Profile{}, zerrors.Input(fmt.Sprintf("reading template %q", templatePath), err)
		}

		return p, nil
	}

	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return config.Profile{}, errUsage("stdin is not a terminal; pass --template for non-interactive init")
	}

	wizard := setupwizard.Interactive{In: os.Stdin, Out: os.Stderr}
	p := config.DefaultProfile()

	var err error

	if p.LocalDir, err = wizard.Prompt("Local sync directory"); err != nil {
		return config.Profile{}, zerrors.Input("prompting for LocalDir", err)
	}

	if p.RemoteDir, err = wizard.Prompt("Remote directory"); err != nil {
		return config.Profile{}, zerrors.Input("prompting for RemoteDir", err)
	}

	if p.RemoteHost, err = wizard.Prompt("Remote host (blank if RemoteDir is local)"); err != nil {
		return config.Profile{}, zerrors.Input("prompting for RemoteHost", err)
	}

	if p.RemoteHost != "" {
		if p.RemoteUser, err = wizard.Prompt("Remote user"); err != nil {
			return config.Profile{}, zerrors.Input("prompting for RemoteUser", err)
		}

		portStr, err := wizard.Prompt("SSH port [22]")
		if err != nil {
			return config.Profile{}, zerrors.Input("prompting for Port", err)
		}

		if portStr != "" {
			port, convErr := strconv.Atoi(portStr)
			if convErr != nil {
				return config.Profile{}, zerrors.Input(fmt.Sprintf("invalid port %q", portStr), convErr)
			}

			p.Port = port
		}
	}

	limitStr, err := wizard.Prompt("Storage limit in bytes")
	if err != nil {
		return config.Profile{}, zerrors.Input("prompting for StorageLimit", err)
	}

	if limitStr != "" {
		limit, convErr := strconv.ParseInt(limitStr, 10, 64)
		if convErr != nil {
			return config.Profile{}, zerrors.Input(fmt.Sprintf("invalid storage limit %q", limitStr), convErr)
		}

		p.StorageLimit = limit
	}

	return p, nil
}
