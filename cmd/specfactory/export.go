package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rodcar/agentic-software-factory/internal/document"
)

var (
	// export command flags
	exportFormat string
	exportOutput string
)

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "markdown", "Export format: markdown, raw or csv (test plans only)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to a file instead of stdout")
}

// exportCmd exports the current version of a session artifact
var exportCmd = &cobra.Command{
	Use:   "export <session-id> <spec|test-plan>",
	Short: "Export the current version of a document",
	Long: `Export the current version of a session's functional specification or
test plan. Markdown renders the stored artifact for reading; raw returns
the stored content unchanged; csv renders a test plan as Azure DevOps
test-case work items.

Examples:
  # Print the functional spec as markdown
  specfactory export 2f1c... spec

  # Save the test plan as an Azure DevOps CSV
  specfactory export 2f1c... test-plan --format csv -o test_plan.csv`,
	Args: cobra.ExactArgs(2),
	RunE: runExport,
}

// runExport handles the export command
func runExport(cmd *cobra.Command, args []string) error {
	kind, err := document.ParseKind(args[1])
	if err != nil {
		return fmt.Errorf("unknown document kind %q (use spec or test-plan)", args[1])
	}

	client := newAPIClient(serverURL)
	body, err := client.export(args[0], kind, exportFormat)
	if err != nil {
		return err
	}

	if exportOutput == "" {
		_, err = os.Stdout.Write(body)
		return err
	}

	if err := os.WriteFile(exportOutput, body, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOutput, err)
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(body), exportOutput)
	return nil
}
