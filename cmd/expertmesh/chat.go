package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"expertmesh/coreengine/client"
	"expertmesh/coreengine/envelope"
	"expertmesh/coreengine/protocol"
)

func chatCmd() *cobra.Command {
	var endpoint string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Terminal chat client for the manager endpoint",
		Long: `Interactive terminal frontend. The client keeps the conversation
history and sends it with every question; the manager itself is
stateless across turns.

Type 'clear' to start a new conversation, 'quit' or 'exit' to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, endpoint)
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "http://localhost:8002", "manager endpoint base URL")
	return cmd
}

func runChat(cmd *cobra.Command, endpoint string) error {
	header := color.New(color.FgCyan, color.Bold)
	prompt := color.New(color.FgGreen, color.Bold)
	notice := color.New(color.FgYellow)
	errText := color.New(color.FgRed)

	header.Println(strings.Repeat("=", 70))
	header.Println("  EXPERTMESH CHAT")
	header.Printf("  Manager endpoint: %s\n", endpoint)
	fmt.Println(strings.Repeat("-", 70))
	fmt.Println("  Conversation history is maintained across messages.")
	fmt.Println("  Type 'clear' to start a new conversation.")
	fmt.Println("  Type 'quit' or 'exit' to stop.")
	header.Println(strings.Repeat("=", 70))

	c := client.New()
	sessionID := uuid.NewString()
	var history []envelope.Turn

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		prompt.Print("\nYou: ")
		if !scanner.Scan() {
			fmt.Println("\nGoodbye!")
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}

		switch strings.ToLower(question) {
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")
			return nil
		case "clear":
			history = nil
			notice.Println("[Conversation history cleared]")
			continue
		}

		payload, err := envelope.Encode(question, history)
		if err != nil {
			errText.Printf("encode error: %v\n", err)
			continue
		}

		notice.Println("\n[Sending to manager...]")
		report, err := c.Ask(cmd.Context(), endpoint, protocol.NewUserMessage(sessionID, payload))
		if err != nil {
			errText.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(report)

		history = append(history,
			envelope.Turn{Role: "user", Content: question},
			envelope.Turn{Role: "assistant", Content: extractAnswer(report)},
		)
	}
}

// extractAnswer strips the boxed report framing so the history carries
// only the expert's answer text.
func extractAnswer(report string) string {
	lines := strings.Split(strings.TrimSpace(report), "\n")
	var content []string
	inContent := false
	for _, line := range lines {
		if strings.HasPrefix(line, "╚") {
			inContent = true
			continue
		}
		if inContent && !strings.HasPrefix(line, "───") {
			content = append(content, line)
		}
	}
	if len(content) == 0 {
		return report
	}
	return strings.TrimSpace(strings.Join(content, "\n"))
}
