package export

import (
	"encoding/csv"
	"fmt"
	"strings"
)

// csvHeader is the column set Azure DevOps expects when importing test
// case work items.
var csvHeader = []string{"Work Item Type", "Title", "Test Step", "Step Action", "Step Expected"}

// TestPlanCSV renders test plan content as an Azure DevOps work-item
// import file. Each test case becomes one "Test Case" row; a case with a
// description gets it as step 1's action.
func TestPlanCSV(content string) (string, error) {
	plan, ok := parseTestPlan(content)
	if !ok {
		return "", fmt.Errorf("content is not a structured test plan")
	}

	var b strings.Builder
	w := csv.NewWriter(&b)

	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, section := range plan.Sections {
		for _, c := range section.Cases {
			name := c.Name
			if name == "" {
				name = "Unnamed Test"
			}

			row := []string{"Test Case", name, "", "", ""}
			if c.Description != "" {
				row[2] = "1"
				row[3] = c.Description
			}
			if err := w.Write(row); err != nil {
				return "", fmt.Errorf("failed to write csv row: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}
	return b.String(), nil
}
