// sidekik - a terminal client for the Sidekik chat backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sidekik/sidekik-cli/internal/cli"
	"github.com/sidekik/sidekik-cli/internal/config"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const usage = `sidekik - chat from your terminal

Usage:
  sidekik chat [chat-id]       start an interactive chat session
  sidekik chats                list conversations
  sidekik login <google|apple> <token>
  sidekik logout
  sidekik whoami
  sidekik configure [flags]    create an assistant configuration
  sidekik version

Flags:
  -config <path>   config file (default ~/.sidekik/config.toml)
`

func main() {
	log.SetFlags(0)

	configPath := flag.String("config", "", "config file path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, rest := args[0], args[1:]

	if cmd == "version" {
		fmt.Printf("sidekik %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}

	app, err := cli.NewApp(cfg)
	if err != nil {
		fatal(err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, app, cmd, rest); err != nil {
		fatal(err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

func dispatch(ctx context.Context, app *cli.App, cmd string, args []string) error {
	switch cmd {
	case "chat":
		chatID := ""
		if len(args) > 0 {
			chatID = args[0]
		}
		// Chat installs its own interrupt handling so Ctrl+C cancels a
		// turn instead of killing the process.
		return app.Chat(context.Background(), chatID)

	case "chats":
		return app.ListChats(ctx)

	case "login":
		if len(args) != 2 {
			return fmt.Errorf("usage: sidekik login <google|apple> <token>")
		}
		return app.Login(ctx, args[0], args[1])

	case "logout":
		return app.Logout(ctx)

	case "whoami":
		return app.WhoAmI(ctx)

	case "configure":
		return runConfigure(ctx, app, args)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func runConfigure(ctx context.Context, app *cli.App, args []string) error {
	fs := flag.NewFlagSet("configure", flag.ContinueOnError)
	userName := fs.String("user-name", "", "how the assistant addresses you")
	aiName := fs.String("ai-name", "", "name of the assistant")
	description := fs.String("description", "", "assistant personality description")
	role := fs.String("role", "", "assistant role")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return app.Configure(ctx, *userName, *aiName, *description, *role)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
