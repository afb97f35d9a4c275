// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	client := NewChatClient(serverURL, authToken, sessionID)

	interactive := isatty.IsTerminal(os.Stdout.Fd())
	var streamed strings.Builder
	var onChunk func(string)
	if interactive {
		onChunk = func(chunk string) {
			fmt.Print(chunk)
			streamed.WriteString(chunk)
		}
	}

	result, err := client.StreamMessage(context.Background(), "", question, onChunk)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	renderFinal(os.Stdout, streamed.String(), result.Answer, interactive)

	if client.SessionID != "" && authToken == "" {
		fmt.Fprintf(os.Stderr, "session: %s (pass --session to continue)\n", client.SessionID)
	}
}

// renderFinal finishes one streamed answer. Non-interactive output prints
// the final text alone. Interactive output already printed the chunks, so
// the final text is reprinted only when the server revised it after
// streaming (citation correction), marked so the revision is visible.
func renderFinal(w io.Writer, streamed, final string, interactive bool) {
	if !interactive {
		fmt.Fprintln(w, final)
		return
	}
	fmt.Fprintln(w)
	if final != streamed {
		fmt.Fprintln(w, "---")
		fmt.Fprintln(w, final)
	}
}

func runChatCommand(cmd *cobra.Command, args []string) {
	client := NewChatClient(serverURL, authToken, sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	tty := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	if tty {
		fmt.Println("Connected. Type a question, Ctrl+D to exit.")
	}

	reader := bufio.NewReader(os.Stdin)
	conversationID := ""

	for {
		if ctx.Err() != nil {
			return
		}
		if tty {
			fmt.Print("> ")
		}

		line, err := reader.ReadString('\n')
		if err == io.EOF {
			if tty {
				fmt.Println()
			}
			return
		}
		if err != nil {
			log.Fatalf("read input: %v", err)
		}
		question := strings.TrimSpace(line)
		if question == "" {
			continue
		}

		var streamed strings.Builder
		result, err := client.StreamMessage(ctx, conversationID, question, func(chunk string) {
			fmt.Print(chunk)
			streamed.WriteString(chunk)
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
			continue
		}
		conversationID = result.ConversationID
		renderFinal(os.Stdout, streamed.String(), result.Answer, true)
	}
}

func runUsageCommand(cmd *cobra.Command, args []string) {
	client := NewChatClient(serverURL, authToken, sessionID)

	usage, err := client.Usage(context.Background())
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("Used %d of %d messages this cycle.\n", usage.Count, usage.Max)
	if usage.ResetAt != nil {
		fmt.Printf("Cooldown active until %s.\n", usage.ResetAt.Local().Format("15:04:05"))
	}
}
