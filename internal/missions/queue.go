package missions

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sukria/koan-sub002/internal/domain"
)

// ErrNotFound is returned when a mission to move is not in the document
var ErrNotFound = errors.New("mission not found")

// NormalizeEntry turns free text into a queue entry: a bullet unless it already
// is a bullet or a block heading
func NormalizeEntry(entry string) string {
	entry = strings.TrimRight(strings.TrimSpace(entry), "\n")
	if entry == "" {
		return ""
	}
	if strings.HasPrefix(entry, "- ") || strings.HasPrefix(entry, "* ") || strings.HasPrefix(entry, "### ") {
		return entry
	}
	return "- " + entry
}

func newEntry(entry, project string) *Mission {
	raw := NormalizeEntry(entry)
	m := &Mission{Raw: raw, Block: strings.HasPrefix(raw, "### ")}
	m.Owner = inlineOwner(raw)
	if project != "" && m.Owner == "" {
		m.Owner = project
	}
	return m
}

// Enqueue adds entry to the pending section. With a project, the entry joins
// that project's group when the section has one, otherwise it carries an
// inline [project:NAME] tag.
func Enqueue(text, entry, project string) (string, error) {
	m := newEntry(entry, project)
	if m.Raw == "" {
		return text, errors.New("empty mission")
	}

	doc := Parse(text)
	pending := doc.ensureSection(domain.MissionPending)

	if project != "" && inlineOwner(m.Raw) == "" {
		if g := pending.findGroup(project); g != nil && !m.Block {
			m.Group = g.Project
			m.Owner = g.Project
		} else {
			m.Raw = addInlineTag(m.Raw, project)
		}
	}
	pending.add(m)
	return Serialize(doc), nil
}

func addInlineTag(raw, project string) string {
	first, rest, hasRest := strings.Cut(raw, "\n")
	first = first + " [project:" + project + "]"
	if hasRest {
		return first + "\n" + rest
	}
	return first
}

// PeekNext returns the first pending mission runnable for filter
func PeekNext(text, filter string) (Mission, bool) {
	for _, m := range Parse(text).Missions(domain.MissionPending) {
		if m.MatchesProject(filter) {
			return m, true
		}
	}
	return Mission{}, false
}

// PeekNextRotating is PeekNext preferring a mission not owned by lastProject,
// so one busy project does not starve the others
func PeekNextRotating(text, filter, lastProject string) (Mission, bool) {
	var first *Mission
	for _, m := range Parse(text).Missions(domain.MissionPending) {
		if !m.MatchesProject(filter) {
			continue
		}
		if lastProject == "" || !strings.EqualFold(m.Owner, lastProject) {
			return m, true
		}
		if first == nil {
			mm := m
			first = &mm
		}
	}
	if first != nil {
		return *first, true
	}
	return Mission{}, false
}

// ProjectGroup is the set of missions owned by one project
type ProjectGroup struct {
	Project    string
	Pending    []Mission
	InProgress []Mission
	Done       []Mission
}

// GroupByProject buckets every mission by owner in first-appearance order.
// Untagged missions are grouped under the empty project name.
func GroupByProject(text string) []ProjectGroup {
	doc := Parse(text)
	var groups []ProjectGroup
	index := make(map[string]int)

	for _, state := range StateOrder {
		for _, m := range doc.Missions(state) {
			key := strings.ToLower(m.Owner)
			i, ok := index[key]
			if !ok {
				i = len(groups)
				index[key] = i
				groups = append(groups, ProjectGroup{Project: m.Owner})
			}
			switch state {
			case domain.MissionPending:
				groups[i].Pending = append(groups[i].Pending, m)
			case domain.MissionInProgress:
				groups[i].InProgress = append(groups[i].InProgress, m)
			case domain.MissionDone:
				groups[i].Done = append(groups[i].Done, m)
			}
		}
	}
	return groups
}

// CountPending returns the number of pending missions
func CountPending(text string) int {
	return len(Parse(text).Missions(domain.MissionPending))
}

// PendingByProject counts pending missions per owner ("" for untagged)
func PendingByProject(text string) map[string]int {
	counts := make(map[string]int)
	for _, m := range Parse(text).Missions(domain.MissionPending) {
		counts[m.Owner]++
	}
	return counts
}

// ProjectNames lists owners with pending work, sorted
func ProjectNames(counts map[string]int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// MarkInProgress moves a pending mission to the in-progress section
func MarkInProgress(text, mission string) (string, error) {
	return move(text, mission, domain.MissionInProgress, domain.MissionPending)
}

// MarkDone moves an in-progress (or still pending) mission to done
func MarkDone(text, mission string) (string, error) {
	return move(text, mission, domain.MissionDone, domain.MissionInProgress, domain.MissionPending)
}

// Requeue moves an in-progress mission back to pending
func Requeue(text, mission string) (string, error) {
	return move(text, mission, domain.MissionPending, domain.MissionInProgress)
}

func move(text, key string, to domain.MissionState, from ...domain.MissionState) (string, error) {
	doc := Parse(text)
	for _, state := range from {
		sec := doc.Section(state)
		if sec == nil {
			continue
		}
		if m := findMission(sec, key); m != nil {
			sec.remove(m)
			doc.ensureSection(to).add(m)
			return Serialize(doc), nil
		}
	}
	return text, fmt.Errorf("%w: %q", ErrNotFound, firstLine(key))
}

// findMission matches key against the exact entry text first, then the first
// line, then the first line with project tags removed
func findMission(sec *Section, key string) *Mission {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	target := Mission{Raw: NormalizeEntry(key)}
	candidates := sec.Entries
	matchers := []func(m *Mission) bool{
		func(m *Mission) bool { return strings.TrimSpace(m.Raw) == key },
		func(m *Mission) bool { return m.Text() == target.Text() },
		func(m *Mission) bool { return bareText(*m) == bareText(target) },
	}
	for _, match := range matchers {
		for _, m := range candidates {
			if match(m) {
				return m
			}
		}
	}
	return nil
}

func bareText(m Mission) string {
	return strings.Join(strings.Fields(inlineTagRegex.ReplaceAllString(m.Text(), "")), " ")
}

func firstLine(s string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return first
}

// SanitizeReport lists what Sanitize changed
type SanitizeReport struct {
	Dropped []string
	Merged  []string
}

// Changed reports whether the document was modified structurally
func (r SanitizeReport) Changed() bool {
	return len(r.Dropped) > 0 || len(r.Merged) > 0
}

// Sanitize removes extra sections that are not whitelisted and merges
// duplicate headings. State sections are merged by Parse already; their
// missions are always kept.
func Sanitize(text string, extraSections []string) (string, SanitizeReport) {
	var report SanitizeReport
	doc := Parse(text)

	for _, state := range StateOrder {
		if countStateHeadings(text, state) > 1 {
			report.Merged = append(report.Merged, doc.Section(state).Heading)
		}
	}

	allowed := make(map[string]bool, len(extraSections))
	for _, name := range extraSections {
		allowed[normalizeHeading(name)] = true
	}

	var kept []*Section
	byName := make(map[string]*Section)
	for _, x := range doc.Extras {
		key := normalizeHeading(x.Heading)
		if !allowed[key] {
			report.Dropped = append(report.Dropped, x.Heading)
			continue
		}
		if existing, ok := byName[key]; ok {
			if len(existing.Lines) > 0 && len(x.Lines) > 0 {
				existing.Lines = append(existing.Lines, "")
			}
			existing.Lines = append(existing.Lines, x.Lines...)
			report.Merged = append(report.Merged, x.Heading)
			continue
		}
		byName[key] = x
		kept = append(kept, x)
	}
	doc.Extras = kept

	return Serialize(doc), report
}

func countStateHeadings(text string, state domain.MissionState) int {
	n := 0
	for _, raw := range strings.Split(text, "\n") {
		if line := classifyLine(raw); line.kind == lineSection && ClassifySection(line.value) == state {
			n++
		}
	}
	return n
}

func normalizeHeading(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimLeft(h, "# ")))
}

// HasPending reports whether entry is already queued as pending
func HasPending(text, entry string) bool {
	sec := Parse(text).Section(domain.MissionPending)
	return sec != nil && findMission(sec, entry) != nil
}
