package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// functionalSpec is the drafter's JSON contract.
type functionalSpec struct {
	ProjectName string   `json:"project_name"`
	Epics       []epic   `json:"epics"`
	Entities    []entity `json:"entities"`
}

type epic struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Features    []feature `json:"features"`
}

type feature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UnmarshalJSON accepts either a feature object or a bare string.
func (f *feature) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &f.Name)
	}

	type alias feature
	var a alias
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return err
	}
	*f = feature(a)
	return nil
}

type entity struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Attributes  []string `json:"attributes"`
}

// testPlan is the test planner's JSON contract. Sections keep the order
// they appear in the agent output.
type testPlan struct {
	Name     string
	Sections []testSection
}

type testSection struct {
	Name  string
	Cases []testCase
}

type testCase struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UnmarshalJSON accepts either a test case object or a bare string.
func (c *testCase) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &c.Name)
	}

	type alias testCase
	var a alias
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return err
	}
	*c = testCase(a)
	return nil
}

// parseFunctionalSpec decodes drafter output. ok is false when the
// content is not the expected JSON shape.
func parseFunctionalSpec(content string) (*functionalSpec, bool) {
	var spec functionalSpec
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &spec); err != nil {
		return nil, false
	}
	if len(spec.Epics) == 0 && len(spec.Entities) == 0 && spec.ProjectName == "" {
		return nil, false
	}
	return &spec, true
}

// parseTestPlan decodes planner output, preserving section order. The
// legacy shape with test_cases as a flat list maps to one unnamed
// section.
func parseTestPlan(content string) (*testPlan, bool) {
	var raw struct {
		Name      string          `json:"name"`
		TestCases json.RawMessage `json:"test_cases"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &raw); err != nil {
		return nil, false
	}

	plan := &testPlan{Name: raw.Name}
	trimmed := bytes.TrimSpace(raw.TestCases)
	if len(trimmed) == 0 {
		if plan.Name == "" {
			return nil, false
		}
		return plan, true
	}

	switch trimmed[0] {
	case '{':
		sections, err := decodeOrderedSections(trimmed)
		if err != nil {
			return nil, false
		}
		plan.Sections = sections
	case '[':
		var cases []testCase
		if err := json.Unmarshal(trimmed, &cases); err != nil {
			return nil, false
		}
		if len(cases) > 0 {
			plan.Sections = []testSection{{Name: "Test Cases", Cases: cases}}
		}
	default:
		return nil, false
	}

	if plan.Name == "" && len(plan.Sections) == 0 {
		return nil, false
	}
	return plan, true
}

// decodeOrderedSections walks the test_cases object token by token so
// sections render in the order the agent wrote them.
func decodeOrderedSections(raw []byte) ([]testSection, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var sections []testSection
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected section name, got %v", keyTok)
		}

		var cases []testCase
		if err := dec.Decode(&cases); err != nil {
			return nil, err
		}
		sections = append(sections, testSection{Name: key, Cases: cases})
	}
	return sections, nil
}

// stripCodeFence removes a surrounding markdown code fence, if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	parts := strings.SplitN(s, "\n", 2)
	if len(parts) < 2 {
		return s
	}
	body := parts[1]
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
