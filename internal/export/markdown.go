package export

import (
	"fmt"
	"strings"

	"github.com/rodcar/agentic-software-factory/internal/document"
)

// ProjectName extracts the project name from functional spec content,
// or "" when the content does not carry one.
func ProjectName(content string) string {
	spec, ok := parseFunctionalSpec(content)
	if !ok {
		return ""
	}
	return strings.TrimSpace(spec.ProjectName)
}

// RenderDocument converts stored artifact content into display markdown.
// Content that is not the expected JSON shape is returned verbatim.
func RenderDocument(kind document.Kind, content string) string {
	switch kind {
	case document.KindFunctionalSpec:
		if md, ok := renderFunctionalSpec(content); ok {
			return md
		}
	case document.KindTestPlan:
		if md, ok := renderTestPlan(content); ok {
			return md
		}
	}
	return content
}

func renderFunctionalSpec(content string) (string, bool) {
	spec, ok := parseFunctionalSpec(content)
	if !ok {
		return "", false
	}

	var b strings.Builder
	if spec.ProjectName != "" {
		fmt.Fprintf(&b, "## %s\n\n", spec.ProjectName)
	}

	if len(spec.Epics) > 0 {
		b.WriteString("### Product Backlog\n\n")
		for _, e := range spec.Epics {
			name := e.Name
			if name == "" {
				name = "Unnamed Epic"
			}
			fmt.Fprintf(&b, "#### Epic: %s\n\n", name)
			if e.Description != "" {
				b.WriteString(e.Description + "\n\n")
			}
			for _, f := range e.Features {
				if f.Description != "" {
					fmt.Fprintf(&b, "- **%s**: %s\n", f.Name, f.Description)
				} else {
					fmt.Fprintf(&b, "- %s\n", f.Name)
				}
			}
			if len(e.Features) > 0 {
				b.WriteString("\n")
			}
		}
	}

	if len(spec.Entities) > 0 {
		b.WriteString("### Data Entities\n\n")
		for _, en := range spec.Entities {
			fmt.Fprintf(&b, "#### %s\n\n", en.Name)
			if en.Description != "" {
				b.WriteString(en.Description + "\n\n")
			}
			if len(en.Attributes) > 0 {
				fmt.Fprintf(&b, "Attributes: %s\n\n", strings.Join(en.Attributes, ", "))
			}
		}
	}

	md := strings.TrimRight(b.String(), "\n")
	if md == "" {
		return "", false
	}
	return md + "\n", true
}

func renderTestPlan(content string) (string, bool) {
	plan, ok := parseTestPlan(content)
	if !ok {
		return "", false
	}

	var b strings.Builder
	name := plan.Name
	if name == "" {
		name = "Test Plan"
	}
	fmt.Fprintf(&b, "### %s\n\n", name)

	for _, section := range plan.Sections {
		fmt.Fprintf(&b, "#### Test Suite: %s\n\n", section.Name)
		if len(section.Cases) == 0 {
			b.WriteString("*No test cases in this section.*\n\n")
			continue
		}
		for _, c := range section.Cases {
			caseName := c.Name
			if caseName == "" {
				caseName = "Unnamed Test"
			}
			if c.Description != "" {
				fmt.Fprintf(&b, "- `%s`: %s\n", caseName, c.Description)
			} else {
				fmt.Fprintf(&b, "- `%s`\n", caseName)
			}
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n", true
}
