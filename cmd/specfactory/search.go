package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	// search command flags
	searchK          int
	searchOutputJSON bool
)

func init() {
	searchCmd.Flags().IntVarP(&searchK, "limit", "k", 5, "Maximum number of results")
	searchCmd.Flags().BoolVar(&searchOutputJSON, "json", false, "Output results as JSON")
}

// searchCmd searches the approved-artifact archive
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search approved artifacts by similarity",
	Long: `Search previously approved specifications and test plans by semantic
similarity. Useful before starting a new idea to find prior art.

Examples:
  # Find approved work similar to a new idea
  specfactory search "inventory tracking service"

  # Return more results
  specfactory search "inventory tracking service" --limit 10`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

// runSearch handles the search command
func runSearch(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)
	result, err := client.search(args[0], searchK)
	if err != nil {
		return err
	}

	if searchOutputJSON {
		return printJSON(os.Stdout, result)
	}

	if len(result.Hits) == 0 {
		fmt.Println("No matching approved artifacts found")
		return nil
	}

	for i, hit := range result.Hits {
		fmt.Printf("%d. %s (%s v%d, score %.3f)\n", i+1, hit.ProjectName, hit.Kind, hit.Version, hit.Score)
		fmt.Printf("   session %s\n", hit.SessionID)
		if preview := firstLine(hit.Content); preview != "" {
			fmt.Printf("   %s\n", truncate(preview, 100))
		}
	}
	return nil
}

// firstLine returns the first non-empty line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
