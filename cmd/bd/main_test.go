package main

import (
	"os"
	"testing"

	"beads-engine/internal/cmd"
)

func TestMain_RunError(t *testing.T) {
	origRun := run
	origExit := osExit
	defer func() {
		run = origRun
		osExit = origExit
	}()

	var gotCode int
	osExit = func(code int) { gotCode = code }
	run = func() int { return cmd.ExitNotFound }

	main()

	if gotCode != cmd.ExitNotFound {
		t.Errorf("expected exit code %d, got %d", cmd.ExitNotFound, gotCode)
	}
}

func TestMain_RunSuccess(t *testing.T) {
	origRun := run
	origExit := osExit
	defer func() {
		run = origRun
		osExit = origExit
	}()

	var gotCode int = -1
	osExit = func(code int) { gotCode = code }
	run = func() int { return cmd.ExitOK }

	main()

	if gotCode != -1 {
		t.Errorf("expected osExit not to be called, but got code %d", gotCode)
	}
}

func TestRun_HelpFlag(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"bd", "--help"}

	if code := run(); code != cmd.ExitOK {
		t.Errorf("run(--help) = %d, want 0", code)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"bd", "nonexistent-command-xyz"}

	if code := run(); code == cmd.ExitOK {
		t.Error("run(nonexistent-command-xyz) should fail")
	}
}
