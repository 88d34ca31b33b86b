package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/sukria/koan-sub002/internal/domain"
)

// Loader manages prompt templates with override support.
type Loader struct {
	overrideDirs []string // Directories to check for overrides (in priority order)
	cache        map[string]*template.Template
	metaCache    map[string]*TemplateMeta
	mu           sync.RWMutex
}

// TemplateMeta holds frontmatter metadata for iteration templates.
type TemplateMeta struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Modes       []string `yaml:"modes"`
}

// IterationData holds template variables for iteration prompts.
type IterationData struct {
	Project      string
	ProjectPath  string
	Mode         domain.Mode
	FocusArea    string
	Mission      string
	AvailablePct float64
	Iteration    int
	MissionsPath string
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
		metaCache:    make(map[string]*TemplateMeta),
	}
}

// DefaultLoader creates a loader with standard override paths:
// 1. Instance: <root>/prompts/
// 2. User config: ~/.config/koan/prompts/
func DefaultLoader(instanceRoot string) *Loader {
	home, _ := os.UserHomeDir()
	dirs := []string{}

	if instanceRoot != "" {
		dirs = append(dirs, filepath.Join(instanceRoot, "prompts"))
	}
	if home != "" {
		dirs = append(dirs, filepath.Join(home, ".config", "koan", "prompts"))
	}

	return NewLoader(dirs...)
}

// loadContent loads raw content from override dirs or embedded FS.
func (l *Loader) loadContent(name string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name))); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, name)
}

// parseFrontmatter splits content into frontmatter and body.
func parseFrontmatter(content []byte) (*TemplateMeta, string, error) {
	str := string(content)
	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil
	}

	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil // Malformed, treat as no frontmatter
	}

	frontmatter := str[4 : 4+end]
	body := str[4+end+5:]

	var meta TemplateMeta
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}

	return &meta, body, nil
}

// LoadTemplate loads and parses a template by path (e.g., "iteration/mission.md").
func (l *Loader) LoadTemplate(name string) (*template.Template, *TemplateMeta, error) {
	l.mu.RLock()
	if tmpl, ok := l.cache[name]; ok {
		meta := l.metaCache[name]
		l.mu.RUnlock()
		return tmpl, meta, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(name)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", name, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", name, err)
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("compile template %s: %w", name, err)
	}

	l.mu.Lock()
	l.cache[name] = tmpl
	l.metaCache[name] = meta
	l.mu.Unlock()

	return tmpl, meta, nil
}

// Execute loads and executes a template with the given data.
func (l *Loader) Execute(name string, data any) (string, error) {
	tmpl, _, err := l.LoadTemplate(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", name, err)
	}

	return buf.String(), nil
}

// ListTemplates returns metadata for the embedded iteration templates.
func (l *Loader) ListTemplates() ([]*TemplateMeta, error) {
	entries, err := fs.ReadDir(embeddedFS, "iteration")
	if err != nil {
		return nil, err
	}

	var result []*TemplateMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name := path.Join("iteration", entry.Name())
		_, meta, err := l.LoadTemplate(name)
		if err != nil {
			return nil, err
		}
		if meta != nil {
			result = append(result, meta)
		}
	}
	return result, nil
}

// TemplateFor maps a planned action to its template path. Wait and error
// actions have no prompt.
func TemplateFor(action domain.Action) (string, bool) {
	switch action {
	case domain.ActionMission:
		return "iteration/mission.md", true
	case domain.ActionAutonomous:
		return "iteration/autonomous.md", true
	case domain.ActionContemplative:
		return "iteration/contemplative.md", true
	}
	return "", false
}

// BuildIterationPrompt renders the prompt for a planned decision.
func (l *Loader) BuildIterationPrompt(d domain.Decision, missionsPath string) (string, error) {
	name, ok := TemplateFor(d.Action)
	if !ok {
		return "", fmt.Errorf("no prompt for action %q", d.Action)
	}
	mission := d.MissionBody
	if mission == "" {
		mission = d.Mission
	}
	return l.Execute(name, IterationData{
		Project:      d.ProjectName,
		ProjectPath:  d.ProjectPath,
		Mode:         d.Mode,
		FocusArea:    d.FocusArea,
		Mission:      mission,
		AvailablePct: d.AvailablePct,
		Iteration:    d.Iteration,
		MissionsPath: missionsPath,
	})
}

// ClearCache clears the template cache (useful for development/testing).
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*template.Template)
	l.metaCache = make(map[string]*TemplateMeta)
	l.mu.Unlock()
}
