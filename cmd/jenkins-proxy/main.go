// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// jenkins-proxy receives GitHub webhooks, queues Jenkins builds for
// them, and reports each build's progress back to GitHub as commit
// statuses.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/config"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/process"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/version"
)

// command is one jenkins-proxy subcommand.
type command struct {
	name    string
	summary string
	run     func(args []string, stdout io.Writer) error
}

var commands = []command{
	{"serve", "run the proxy daemon (default)", runServe},
	{"tasks", "list the tasks in the durable queue", runTasks},
	{"build", "ask a running daemon to queue a build", runBuild},
	{"keygen", "generate an age keypair for sealed credentials", runKeygen},
	{"seal", "encrypt a credentials file for one or more recipients", runSeal},
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) > 0 {
		switch args[0] {
		case "--version", "version":
			fmt.Fprintf(stdout, "jenkins-proxy %s\n", version.Full())
			return nil
		case "help", "--help", "-h":
			printUsage(stdout)
			return nil
		}
	}

	name, rest := "serve", args
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, rest = args[0], args[1:]
	}
	for _, candidate := range commands {
		if candidate.name == name {
			err := candidate.run(rest, stdout)
			if errors.Is(err, pflag.ErrHelp) {
				return nil
			}
			return err
		}
	}
	printUsage(os.Stderr)
	return fmt.Errorf("unknown command %q", name)
}

func printUsage(writer io.Writer) {
	fmt.Fprintf(writer, "Usage: jenkins-proxy [command] [flags]\n\nCommands:\n")
	for _, candidate := range commands {
		fmt.Fprintf(writer, "  %-8s %s\n", candidate.name, candidate.summary)
	}
	fmt.Fprintf(writer, "\nRun \"jenkins-proxy <command> --help\" for the flags of a command.\n")
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("jenkins-proxy "+name, pflag.ContinueOnError)
	flags.SortFlags = false
	return flags
}

// loadConfig reads the file named by --config, or by
// JENKINS_PROXY_CONFIG when the flag is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

// newLogger writes text records when stderr is a terminal and JSON
// records otherwise.
func newLogger(stderr *os.File, level slog.Level) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(stderr.Fd())) {
		return slog.New(slog.NewTextHandler(stderr, options))
	}
	return slog.New(slog.NewJSONHandler(stderr, options))
}
