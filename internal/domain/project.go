package domain

import "strings"

// Project is a repository the assistant may work on
type Project struct {
	Name string `toml:"name" json:"name"`
	Path string `toml:"path" json:"path"`
}

// FindProject looks up a project by name, ignoring case
func FindProject(projects []Project, name string) (Project, bool) {
	for _, p := range projects {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Project{}, false
}

// ProjectNames returns the names in configuration order
func ProjectNames(projects []Project) []string {
	names := make([]string, 0, len(projects))
	for _, p := range projects {
		names = append(names, p.Name)
	}
	return names
}
