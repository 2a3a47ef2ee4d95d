package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rodcar/agentic-software-factory/internal/session"
)

var (
	// approve-watch command flags
	watchInterval time.Duration
	watchTimeout  time.Duration
)

func init() {
	approveWatchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "Poll interval")
	approveWatchCmd.Flags().DurationVar(&watchTimeout, "timeout", 30*time.Minute, "Give up after this long (0 waits forever)")
}

// approveWatchCmd waits for a session to reach approval
var approveWatchCmd = &cobra.Command{
	Use:   "approve-watch <session-id>",
	Short: "Wait until a session is approved",
	Long: `Poll a session until it reaches the approved phase, then exit 0. Useful
for scripting a pipeline step behind the human approval.

Examples:
  # Block until approval, then export the artifacts
  specfactory approve-watch 2f1c... && specfactory export 2f1c... spec -o spec.md`,
	Args: cobra.ExactArgs(1),
	RunE: runApproveWatch,
}

// runApproveWatch handles the approve-watch command
func runApproveWatch(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)

	var deadline time.Time
	if watchTimeout > 0 {
		deadline = time.Now().Add(watchTimeout)
	}

	lastPhase := session.Phase("")
	for {
		snap, err := client.getSession(args[0])
		if err != nil {
			return err
		}

		if snap.Phase != lastPhase {
			fmt.Printf("%s phase: %s\n", time.Now().Format("15:04:05"), snap.Phase)
			lastPhase = snap.Phase
		}
		if snap.Phase.Terminal() {
			fmt.Printf("Session %s approved\n", snap.ID)
			return nil
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("session %s not approved after %s (phase %s)", snap.ID, watchTimeout, snap.Phase)
		}
		time.Sleep(watchInterval)
	}
}
