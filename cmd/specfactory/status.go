package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rodcar/agentic-software-factory/internal/session"
)

var (
	// status command flags
	statusOutputJSON bool
	statusShowLog    bool
)

func init() {
	statusCmd.Flags().BoolVar(&statusOutputJSON, "json", false, "Output the session snapshot as JSON")
	statusCmd.Flags().BoolVar(&statusShowLog, "log", false, "Include the full conversation log")
}

// statusCmd shows a session snapshot
var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's phase and conversation summary",
	Long: `Show the current phase, idea and conversation summary of a session.

Examples:
  # Show a session
  specfactory status 2f1c...

  # Include the full conversation log
  specfactory status --log 2f1c...`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

// closeCmd closes a session
var closeCmd = &cobra.Command{
	Use:   "close <session-id>",
	Short: "Close a session",
	Long: `Close a session. Pending turns finish, further turns are rejected and
the session's working documents are dropped. Approved artifacts already
archived stay in the archive.

Examples:
  specfactory close 2f1c...`,
	Args: cobra.ExactArgs(1),
	RunE: runClose,
}

// runStatus handles the status command
func runStatus(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)
	snap, err := client.getSession(args[0])
	if err != nil {
		return err
	}

	if statusOutputJSON {
		return printJSON(os.Stdout, snap)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Session:\t%s\n", snap.ID)
	fmt.Fprintf(w, "Phase:\t%s\n", snap.Phase)
	if snap.Idea != "" {
		fmt.Fprintf(w, "Idea:\t%s\n", truncate(snap.Idea, 80))
	}
	if snap.LastTouched != "" {
		fmt.Fprintf(w, "Last touched:\t%s\n", snap.LastTouched)
	}
	fmt.Fprintf(w, "Messages:\t%d\n", len(snap.Messages))
	fmt.Fprintf(w, "Created:\t%s\n", snap.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Last activity:\t%s\n", snap.LastActivity.Format("2006-01-02 15:04:05"))
	if err := w.Flush(); err != nil {
		return err
	}

	if statusShowLog {
		fmt.Println()
		for _, msg := range snap.Messages {
			printLogEntry(msg)
		}
	}
	return nil
}

// runClose handles the close command
func runClose(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)
	if err := client.closeSession(args[0]); err != nil {
		return err
	}
	fmt.Printf("Session %s closed\n", args[0])
	return nil
}

func printLogEntry(msg session.Message) {
	fmt.Printf("--- %s at %s ---\n", authorLabel(msg.Author), msg.CreatedAt.Format("15:04:05"))
	fmt.Println(msg.Text)
	if len(msg.Reviewed) > 0 {
		fmt.Print("(reviewed:")
		for _, ref := range msg.Reviewed {
			fmt.Printf(" %s v%d", ref.Kind, ref.Version)
		}
		fmt.Println(")")
	}
	fmt.Println()
}

// truncate shortens s to at most n runes, appending an ellipsis.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
