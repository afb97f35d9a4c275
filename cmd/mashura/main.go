// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
	sessionID string

	rootCmd = &cobra.Command{
		Use:   "mashura",
		Short: "A CLI for the Mashura legal assistant service",
		Long: `Mashura is a command line client for the Mashura orchestrator.
It streams answers from the Arabic legal assistant, continues guest
sessions across invocations, and reports usage quota state.`,
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long:  `Opens an interactive loop. Each answer streams as it is generated. Ctrl+D ends the session.`,
		Run:   runChatCommand,
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand,
	}

	usageCmd = &cobra.Command{
		Use:   "usage",
		Short: "Show the current usage quota for your identity",
		Run:   runUsageCommand,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("MASHURA_SERVER_URL", "http://localhost:12400"),
		"Base URL of the orchestrator service")
	rootCmd.PersistentFlags().StringVar(&authToken, "token",
		os.Getenv("MASHURA_TOKEN"),
		"Bearer token for an authenticated identity")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session",
		os.Getenv("MASHURA_SESSION_ID"),
		"Guest session id to resume")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(usageCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
