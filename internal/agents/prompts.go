package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Default system prompts. The JSON shapes are the contract the export
// renderers parse; agents that deviate fall back to raw-text rendering.
const (
	drafterSystemPrompt = `You are a software business analyst. Produce a functional specification for the given project idea.

Respond with a JSON object only, no additional text:
{
  "project_name": "short name",
  "epics": [
    {"name": "...", "description": "...", "features": [{"name": "...", "description": "..."}]}
  ],
  "entities": [
    {"name": "...", "description": "...", "attributes": ["..."]}
  ]
}

When a revision request is present, apply it to the current specification and return the complete revised document.`

	testPlannerSystemPrompt = `You are a software test engineer. Produce a test plan covering the given functional specification.

Respond with a JSON object only, no additional text:
{
  "name": "test plan name",
  "test_cases": {
    "section name": [
      {"name": "...", "description": "..."}
    ]
  }
}

Cover every feature with at least one test case, including negative cases. When a revision request is present, apply it to the current test plan and return the complete revised plan.`

	reviewerSystemPrompt = `You are a software quality reviewer. Critique the functional specification and test plan for completeness, consistency and testability. Do not rewrite them.

Respond with a JSON object only, no additional text:
{
  "review_feedback": "overall assessment",
  "actionable_suggestions": ["...", "..."]
}

Give at most five actionable suggestions, most important first.`
)

// Default user prompt templates, rendered over Context.
const (
	drafterUserTemplate = `Project idea:
{{.Idea}}
{{- if .PriorVersion}}

Current functional specification:
{{.PriorVersion}}

Revision request:
{{.Feedback}}
{{- end}}`

	testPlannerUserTemplate = `Functional specification:
{{.FunctionalSpec}}
{{- if .PriorVersion}}

Current test plan:
{{.PriorVersion}}

Revision request:
{{.Feedback}}
{{- end}}`

	reviewerUserTemplate = `Functional specification:
{{.FunctionalSpec}}

Test plan:
{{.TestPlan}}`
)

// Library holds the per-role prompt templates. When a template directory is
// configured, files named <role>.system.txt and <role>.user.tmpl override
// the embedded defaults and are hot-reloaded on change.
type Library struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	system map[Role]string
	user   map[Role]*template.Template

	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// NewLibrary creates a prompt library. dir may be empty to use only the
// embedded defaults.
func NewLibrary(dir string, logger *zap.Logger) (*Library, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Library{
		dir:    dir,
		logger: logger,
		system: map[Role]string{
			RoleDrafter:     drafterSystemPrompt,
			RoleTestPlanner: testPlannerSystemPrompt,
			RoleReviewer:    reviewerSystemPrompt,
		},
		user: make(map[Role]*template.Template),
		stop: make(chan struct{}),
	}

	defaults := map[Role]string{
		RoleDrafter:     drafterUserTemplate,
		RoleTestPlanner: testPlannerUserTemplate,
		RoleReviewer:    reviewerUserTemplate,
	}
	for role, text := range defaults {
		tmpl, err := template.New(string(role)).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parsing default %s template: %w", role, err)
		}
		l.user[role] = tmpl
	}

	if dir != "" {
		if err := l.loadDir(); err != nil {
			return nil, err
		}
	}

	return l, nil
}

// Render produces the system and user prompts for one invocation.
func (l *Library) Render(role Role, pc Context) (string, string, error) {
	if !role.Valid() {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	l.mu.RLock()
	system := l.system[role]
	tmpl := l.user[role]
	l.mu.RUnlock()

	var b strings.Builder
	if err := tmpl.Execute(&b, pc); err != nil {
		return "", "", fmt.Errorf("rendering %s prompt: %w", role, err)
	}

	return system, b.String(), nil
}

// Watch starts hot reloading of template overrides. No-op without a dir.
func (l *Library) Watch(ctx context.Context) error {
	if l.dir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating template watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching template dir: %w", err)
	}
	l.watcher = watcher

	go l.processEvents(ctx)
	return nil
}

// Stop stops the watcher.
func (l *Library) Stop() {
	select {
	case <-l.stop:
		return
	default:
		close(l.stop)
		if l.watcher != nil {
			_ = l.watcher.Close()
		}
	}
}

// processEvents reloads templates on file changes.
func (l *Library) processEvents(ctx context.Context) {
	for {
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := l.reloadFile(event.Name); err != nil {
				l.logger.Warn("template reload failed",
					zap.String("file", event.Name),
					zap.Error(err),
				)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("template watcher error", zap.Error(err))
		}
	}
}

// loadDir applies every recognized override file in the directory.
func (l *Library) loadDir() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("reading template dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := l.reloadFile(filepath.Join(l.dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// reloadFile applies a single override file if its name matches a role slot.
func (l *Library) reloadFile(path string) error {
	base := filepath.Base(path)

	role, kind, ok := parseTemplateName(base)
	if !ok {
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading template %s: %w", base, err)
	}

	switch kind {
	case "system":
		l.mu.Lock()
		l.system[role] = string(content)
		l.mu.Unlock()
	case "user":
		tmpl, err := template.New(string(role)).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", base, err)
		}
		l.mu.Lock()
		l.user[role] = tmpl
		l.mu.Unlock()
	}

	l.logger.Info("reloaded prompt template",
		zap.String("role", string(role)),
		zap.String("kind", kind),
	)
	return nil
}

// parseTemplateName matches <role>.system.txt and <role>.user.tmpl.
func parseTemplateName(base string) (Role, string, bool) {
	var role Role
	switch {
	case strings.HasPrefix(base, string(RoleDrafter)+"."):
		role = RoleDrafter
	case strings.HasPrefix(base, string(RoleTestPlanner)+"."):
		role = RoleTestPlanner
	case strings.HasPrefix(base, string(RoleReviewer)+"."):
		role = RoleReviewer
	default:
		return "", "", false
	}

	switch base[len(role)+1:] {
	case "system.txt":
		return role, "system", true
	case "user.tmpl":
		return role, "user", true
	default:
		return "", "", false
	}
}
