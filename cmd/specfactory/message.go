package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rodcar/agentic-software-factory/internal/session"
)

var (
	// message command flags
	msgSessionID  string
	msgOutputJSON bool
)

func init() {
	messageCmd.Flags().StringVar(&msgSessionID, "session", "", "Session ID (empty starts a new session)")
	messageCmd.Flags().BoolVar(&msgOutputJSON, "json", false, "Output the turn result as JSON")
}

// messageCmd sends one conversational turn
var messageCmd = &cobra.Command{
	Use:   "message [text]",
	Short: "Send one message to the specification factory",
	Long: `Send one conversational turn to the specification factory daemon and
print the agent replies. With no --session flag a new session is started
and its ID is printed so the conversation can continue.

Examples:
  # Start a new session with a project idea
  specfactory message "Build a to-do list API"

  # Continue an existing session
  specfactory message --session 2f1c... "please add a rate limit requirement to the spec"

  # Approve the current drafts
  specfactory message --session 2f1c... "approve"

  # Read the message from stdin
  cat idea.txt | specfactory message -`,
	Args: cobra.ExactArgs(1),
	RunE: runMessage,
}

// runMessage handles the message command
func runMessage(cmd *cobra.Command, args []string) error {
	text := args[0]
	if text == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text is empty")
	}

	client := newAPIClient(serverURL)
	result, err := client.sendMessage(msgSessionID, text)
	if err != nil {
		return err
	}

	if msgOutputJSON {
		return printJSON(os.Stdout, result)
	}

	fmt.Printf("Session: %s\n", result.SessionID)
	fmt.Printf("Phase:   %s\n", result.Phase)
	for _, reply := range result.Replies {
		fmt.Printf("\n[%s]\n%s\n", reply.Author, reply.Text)
	}
	if msgSessionID == "" {
		fmt.Printf("\nContinue with: specfactory message --session %s \"...\"\n", result.SessionID)
	}
	return nil
}

// authorLabel is the display name for a message author.
func authorLabel(a session.Author) string {
	switch a {
	case session.AuthorUser:
		return "You"
	case session.AuthorDrafter:
		return "Drafter"
	case session.AuthorTestPlanner:
		return "Test Planner"
	case session.AuthorReviewer:
		return "Reviewer"
	case session.AuthorSystem:
		return "System"
	default:
		return string(a)
	}
}
