package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lostatc/zielen/internal/zerrors"
)

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{"init", "sync", "reset", "list", "empty-trash"}
	for _, name := range expected {
		found := false

		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true

				break
			}
		}

		assert.True(t, found, "expected subcommand %q not found", name)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"debug", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "expected persistent flag %q not found", name)
	}
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, 2, exitCodeFor(errUsage("bad args")))
	assert.Equal(t, 1, exitCodeFor(zerrors.Input("bad config", nil)))
	assert.Equal(t, 1, exitCodeFor(errors.New("boom")))
}

func TestCLIContext_Statusf_Quiet(t *testing.T) {
	cc := &CLIContext{Flags: GlobalFlags{Quiet: true}}

	// Quiet suppresses Statusf; this only checks it doesn't panic, since
	// output goes straight to os.Stderr rather than an injectable writer.
	cc.Statusf("should not print: %d\n", 1)
}
