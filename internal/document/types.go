package document

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies one of the two tracked artifact types.
type Kind string

const (
	// KindFunctionalSpec is the functional specification artifact.
	KindFunctionalSpec Kind = "functional_spec"
	// KindTestPlan is the test plan artifact.
	KindTestPlan Kind = "test_plan"
)

// Valid reports whether k is a known document kind.
func (k Kind) Valid() bool {
	return k == KindFunctionalSpec || k == KindTestPlan
}

// ParseKind maps user-facing spellings ("spec", "test-plan", ...) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "functional_spec", "functional-spec", "spec", "functional_specification":
		return KindFunctionalSpec, nil
	case "test_plan", "test-plan", "testplan", "tests":
		return KindTestPlan, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Author identifies who produced a version.
type Author string

const (
	// AuthorDrafter is the functional spec drafting agent.
	AuthorDrafter Author = "drafter"
	// AuthorTestPlanner is the test planning agent.
	AuthorTestPlanner Author = "test_planner"
	// AuthorReviewer is the reviewing agent.
	AuthorReviewer Author = "reviewer"
	// AuthorUser marks a direct user edit.
	AuthorUser Author = "user"
)

// Version is an immutable snapshot of a document.
type Version struct {
	// ID is the version number, strictly increasing from 1 per document.
	ID int `json:"id"`

	// Kind is the document this version belongs to.
	Kind Kind `json:"kind"`

	// Content is the artifact text.
	Content string `json:"content"`

	// Author is the role that produced this version.
	Author Author `json:"author"`

	// CreatedAt is when the version was appended.
	CreatedAt time.Time `json:"created_at"`
}

// Ref identifies a specific version of a document.
type Ref struct {
	Kind    Kind `json:"kind"`
	Version int  `json:"version"`
}

// Document is an ordered, append-only version history for one kind.
type Document struct {
	Kind     Kind      `json:"kind"`
	Versions []Version `json:"versions"`
}

// Current returns the latest version, or nil if the document is empty.
func (d *Document) Current() *Version {
	if d == nil || len(d.Versions) == 0 {
		return nil
	}
	v := d.Versions[len(d.Versions)-1]
	return &v
}
