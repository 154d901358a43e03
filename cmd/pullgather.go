package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aceeric/pullgather/cmd/subcmd"
	"github.com/aceeric/pullgather/impl/config"
	"github.com/aceeric/pullgather/impl/display"
	"github.com/aceeric/pullgather/impl/globals"
)

// set by the build
var (
	buildVer string
	buildDtm string
)

func main() {
	os.Exit(realMain())
}

// realMain runs the command on the command line and returns the process exit
// code: zero on success, one if the command failed (including a strict pull
// that left images unpulled), and two if the configuration was invalid.
func realMain() int {
	command, err := getCfg()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		return 2
	}
	console := display.ForFile(os.Stderr)
	if err := globals.ConfigureLogging(config.GetLogLevel(), config.GetLogFile(), console); err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logging: %s\n", err)
		return 2
	}
	switch command {
	case "pull":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		err = subcmd.Pull(ctx, console)
	case "list":
		err = subcmd.List(os.Stdout)
	case "version":
		fmt.Printf("pullgather version: %s build date: %s\n", buildVer, buildDtm)
	}
	if err != nil {
		if !errors.Is(err, subcmd.ErrIncomplete) {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
		}
		return 1
	}
	return 0
}
