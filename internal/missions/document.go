// Package missions parses and rewrites the missions.md queue document.
//
// The document is a title, one section per mission state (headings in English
// or French), optional per-project sub-groupings, and any number of extra
// sections the queue ignores. Entries are bullets or multi-line blocks
// introduced by a level-3 heading.
package missions

import (
	"regexp"
	"strings"

	"github.com/sukria/koan-sub002/internal/domain"
)

// DefaultTitle is used when a document has no level-1 heading
const DefaultTitle = "Missions"

// StateOrder is the canonical order of state sections in a serialized document
var StateOrder = []domain.MissionState{domain.MissionPending, domain.MissionInProgress, domain.MissionDone}

var defaultHeadings = map[domain.MissionState]string{
	domain.MissionPending:    "Pending",
	domain.MissionInProgress: "In Progress",
	domain.MissionDone:       "Done",
}

// stateKeywords are matched against the lowercased heading; in-progress is
// checked first so "en cours" never reads as anything else
var stateKeywords = []struct {
	state    domain.MissionState
	keywords []string
}{
	{domain.MissionInProgress, []string{"in progress", "in-progress", "en cours"}},
	{domain.MissionDone, []string{"done", "termin", "completed", "fait", "finished"}},
	{domain.MissionPending, []string{"pending", "en attente", "à faire", "a faire", "todo", "to do"}},
}

var (
	// ### [project:koan] or ### [koan]
	ownerBracketRegex = regexp.MustCompile(`(?i)^\[\s*(?:(?:project|projet)\s*:\s*)?([^\]]+?)\s*\]$`)
	// ### project:koan / ### projet: koan
	ownerPlainRegex = regexp.MustCompile(`(?i)^(?:project|projet)\s*:\s*(\S.*?)$`)
	// - fix the thing [project:koan]
	inlineTagRegex = regexp.MustCompile(`(?i)\[(?:project|projet)\s*:\s*([^\]]+?)\s*\]`)
)

// Mission is one queue entry
type Mission struct {
	Raw   string // entry text including its bullet or block heading
	Owner string // resolved owning project, empty when untagged
	Group string // project of the enclosing sub-heading, if any
	State domain.MissionState
	Block bool

	lines []string
	gap   bool // a blank line followed the bullet
}

// Text returns the first line without its bullet or heading marker
func (m Mission) Text() string {
	first, _, _ := strings.Cut(m.Raw, "\n")
	first = strings.TrimSpace(first)
	for _, prefix := range []string{"### ", "- ", "* "} {
		if strings.HasPrefix(first, prefix) {
			return strings.TrimSpace(first[len(prefix):])
		}
	}
	return first
}

// Body returns the whole entry with the marker of its first line removed
func (m Mission) Body() string {
	_, rest, hasRest := strings.Cut(m.Raw, "\n")
	if !hasRest {
		return m.Text()
	}
	return m.Text() + "\n" + rest
}

// promote rewrites a bullet as a block heading with the same text
func (m *Mission) promote() {
	first, rest, hasRest := strings.Cut(m.Raw, "\n")
	m.Raw = "### " + strings.TrimSpace(first[2:])
	if hasRest {
		m.Raw += "\n" + rest
	}
	m.Block = true
}

// MatchesProject reports whether the mission may run for filter. Untagged
// missions match any filter; an empty filter matches everything.
func (m Mission) MatchesProject(filter string) bool {
	return filter == "" || m.Owner == "" || strings.EqualFold(m.Owner, filter)
}

// Group is a per-project owner sub-heading inside a state section
type Group struct {
	Project string
	Heading string
}

// Section is one level-2 heading and its body
type Section struct {
	Heading string
	State   domain.MissionState // empty for extra sections
	Notes   []string            // prose not attached to any entry
	Entries []*Mission          // document order
	Groups  []*Group            // owner sub-headings, first appearance order
	Lines   []string            // verbatim body of extra sections
}

// IsState reports whether the section holds missions
func (s *Section) IsState() bool {
	return s.State != ""
}

func (s *Section) group(project, heading string) *Group {
	if g := s.findGroup(project); g != nil {
		return g
	}
	g := &Group{Project: project, Heading: heading}
	s.Groups = append(s.Groups, g)
	return g
}

func (s *Section) findGroup(project string) *Group {
	for _, g := range s.Groups {
		if strings.EqualFold(g.Project, project) {
			return g
		}
	}
	return nil
}

func (s *Section) groupHeading(project string) string {
	if g := s.findGroup(project); g != nil {
		return g.Heading
	}
	return ownerHeading(project)
}

// captures reports whether a bullet written after the last entry would be
// read back as part of a block or an owner group
func (s *Section) captures() bool {
	if len(s.Entries) == 0 {
		return false
	}
	last := s.Entries[len(s.Entries)-1]
	return last.Block || last.Group != ""
}

// firstCapture is the index of the first entry after which bullets are captured
func (s *Section) firstCapture() int {
	for i, m := range s.Entries {
		if m.Block || m.Group != "" {
			return i
		}
	}
	return len(s.Entries)
}

func (s *Section) insert(i int, m *Mission) {
	s.Entries = append(s.Entries, nil)
	copy(s.Entries[i+1:], s.Entries[i:])
	s.Entries[i] = m
}

// add files a mission at the end of the section, or at the end of its owner
// group. An ungrouped bullet landing behind a block or a group is written as
// a block of its own so it keeps both its position and its missing owner.
func (s *Section) add(m *Mission) {
	m.State = s.State
	switch {
	case m.Group != "" && !m.Block:
		s.group(m.Group, ownerHeading(m.Group))
		for i := len(s.Entries) - 1; i >= 0; i-- {
			if strings.EqualFold(s.Entries[i].Group, m.Group) {
				s.insert(i+1, m)
				return
			}
		}
	case !m.Block && s.captures():
		if _, ok := ownerOf(m.Text()); ok {
			s.insert(s.firstCapture(), m)
			return
		}
		m.promote()
	}
	s.Entries = append(s.Entries, m)
}

// appendParsed keeps document order. Only a repeated section heading can put
// a bullet behind a block or group; it is moved ahead of them.
func (s *Section) appendParsed(m *Mission) {
	if !m.Block && m.Group == "" && s.captures() {
		s.insert(s.firstCapture(), m)
		return
	}
	s.Entries = append(s.Entries, m)
}

func (s *Section) addNote(line string, afterBlank bool) {
	if afterBlank && len(s.Notes) > 0 {
		s.Notes = append(s.Notes, "")
	}
	s.Notes = append(s.Notes, line)
}

// remove deletes m from the section, reporting whether it was present
func (s *Section) remove(m *Mission) bool {
	for i, existing := range s.Entries {
		if existing == m {
			s.Entries = append(s.Entries[:i], s.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Document is a parsed missions.md
type Document struct {
	Title    string
	Preamble []string
	states   map[domain.MissionState]*Section
	Extras   []*Section
}

// Section returns the state section, or nil when the document has none
func (d *Document) Section(state domain.MissionState) *Section {
	return d.states[state]
}

func (d *Document) ensureSection(state domain.MissionState) *Section {
	s, _ := d.sectionFor(state, defaultHeadings[state])
	return s
}

func (d *Document) sectionFor(state domain.MissionState, heading string) (*Section, bool) {
	if d.states == nil {
		d.states = make(map[domain.MissionState]*Section)
	}
	if s, ok := d.states[state]; ok {
		return s, false
	}
	s := &Section{Heading: heading, State: state}
	d.states[state] = s
	return s, true
}

// Missions returns the entries of one state in queue order
func (d *Document) Missions(state domain.MissionState) []Mission {
	s := d.Section(state)
	if s == nil {
		return nil
	}
	var out []Mission
	for _, m := range s.Entries {
		out = append(out, *m)
	}
	return out
}

// ClassifySection maps a level-2 heading to a mission state, or "" for
// sections that hold no missions
func ClassifySection(heading string) domain.MissionState {
	h := strings.ToLower(strings.TrimSpace(heading))
	for _, sk := range stateKeywords {
		for _, kw := range sk.keywords {
			if strings.Contains(h, kw) {
				return sk.state
			}
		}
	}
	return ""
}

// ownerOf returns the project named by an owner sub-heading
func ownerOf(heading string) (string, bool) {
	heading = strings.TrimSpace(heading)
	if m := ownerBracketRegex.FindStringSubmatch(heading); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := ownerPlainRegex.FindStringSubmatch(heading); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}

func ownerHeading(project string) string {
	return "project:" + project
}

// inlineOwner returns the [project:X] tag on the entry's first line
func inlineOwner(raw string) string {
	first, _, _ := strings.Cut(raw, "\n")
	if m := inlineTagRegex.FindStringSubmatch(first); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

type lineKind int

const (
	lineBlank lineKind = iota
	lineTitle
	lineSection
	lineSubheading
	lineBullet
	lineText
)

type taggedLine struct {
	kind  lineKind
	raw   string
	value string
}

func classifyLine(raw string) taggedLine {
	trimmed := strings.TrimRight(raw, " \t\r")
	switch {
	case strings.TrimSpace(trimmed) == "":
		return taggedLine{kind: lineBlank}
	case strings.HasPrefix(trimmed, "# "):
		return taggedLine{kind: lineTitle, raw: trimmed, value: strings.TrimSpace(trimmed[2:])}
	case strings.HasPrefix(trimmed, "## "):
		return taggedLine{kind: lineSection, raw: trimmed, value: strings.TrimSpace(trimmed[3:])}
	case strings.HasPrefix(trimmed, "### "):
		return taggedLine{kind: lineSubheading, raw: trimmed, value: strings.TrimSpace(trimmed[4:])}
	case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
		return taggedLine{kind: lineBullet, raw: trimmed}
	}
	return taggedLine{kind: lineText, raw: trimmed}
}

// Parse reads a missions document. It never fails: unrecognized structure is
// kept in extra sections or ignored, and duplicate state sections are merged.
func Parse(text string) *Document {
	doc := &Document{}
	var (
		sec       *Section
		group     *Group
		entry     *Mission
		prevBlank bool
	)

	closeEntry := func() {
		if entry != nil {
			entry.finish()
			entry = nil
		}
	}

	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line := classifyLine(raw)
		afterBlank := prevBlank
		prevBlank = line.kind == lineBlank

		if line.kind == lineSection {
			closeEntry()
			group = nil
			if state := ClassifySection(line.value); state != "" {
				sec, _ = doc.sectionFor(state, line.value)
			} else {
				sec = &Section{Heading: line.value}
				doc.Extras = append(doc.Extras, sec)
			}
			continue
		}

		if sec == nil {
			switch {
			case line.kind == lineTitle && doc.Title == "":
				doc.Title = line.value
			case line.kind == lineBlank && len(doc.Preamble) == 0:
			default:
				doc.Preamble = append(doc.Preamble, line.raw)
			}
			continue
		}

		if !sec.IsState() {
			sec.Lines = append(sec.Lines, line.raw)
			continue
		}

		switch line.kind {
		case lineSubheading:
			closeEntry()
			if project, ok := ownerOf(line.value); ok {
				group = sec.group(project, line.value)
				continue
			}
			group = nil
			entry = &Mission{Block: true, State: sec.State, lines: []string{line.raw}}
			sec.appendParsed(entry)
		case lineBullet:
			if entry != nil && entry.Block {
				entry.lines = append(entry.lines, line.raw)
				continue
			}
			closeEntry()
			entry = &Mission{State: sec.State, lines: []string{line.raw}}
			if group != nil {
				entry.Group = group.Project
			}
			sec.appendParsed(entry)
		case lineBlank:
			if entry != nil {
				if entry.Block {
					entry.lines = append(entry.lines, "")
				} else {
					entry.gap = true
				}
			}
		default:
			if entry != nil && (entry.Block || !entry.gap || isIndented(line.raw)) {
				entry.lines = append(entry.lines, line.raw)
				continue
			}
			// prose set apart from any entry is kept as section notes
			closeEntry()
			sec.addNote(line.raw, afterBlank)
		}
	}
	closeEntry()

	doc.Preamble = trimTrailingBlank(doc.Preamble)
	for _, x := range doc.Extras {
		x.Lines = trimTrailingBlank(trimLeadingBlank(x.Lines))
	}
	return doc
}

func (m *Mission) finish() {
	m.lines = trimTrailingBlank(m.lines)
	m.Raw = strings.Join(m.lines, "\n")
	m.Owner = inlineOwner(m.Raw)
	if m.Owner == "" {
		m.Owner = m.Group
	}
	m.lines = nil
	m.gap = false
}

func isIndented(raw string) bool {
	return strings.HasPrefix(raw, " ") || strings.HasPrefix(raw, "\t")
}

func trimLeadingBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	return lines
}

func trimTrailingBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Serialize renders the canonical form: title, preamble, the three state
// sections in fixed order, then extra sections in document order
func Serialize(doc *Document) string {
	var b strings.Builder

	title := doc.Title
	if title == "" {
		title = DefaultTitle
	}
	b.WriteString("# " + title + "\n\n")
	if len(doc.Preamble) > 0 {
		b.WriteString(strings.Join(doc.Preamble, "\n") + "\n\n")
	}

	for _, state := range StateOrder {
		sec := doc.Section(state)
		if sec == nil {
			sec = &Section{Heading: defaultHeadings[state], State: state}
		}
		b.WriteString("## " + sec.Heading + "\n\n")
		if len(sec.Notes) > 0 {
			b.WriteString(strings.Join(sec.Notes, "\n") + "\n\n")
		}
		writeEntries(&b, sec)
	}

	for _, x := range doc.Extras {
		b.WriteString("## " + x.Heading + "\n\n")
		if len(x.Lines) > 0 {
			b.WriteString(strings.Join(x.Lines, "\n") + "\n\n")
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// writeEntries emits an owner sub-heading whenever the group changes, then
// any owner sub-headings left without entries
func writeEntries(b *strings.Builder, sec *Section) {
	var (
		current        string
		pendingBullets bool
		used           = make(map[string]bool)
	)
	flush := func() {
		if pendingBullets {
			b.WriteString("\n")
			pendingBullets = false
		}
	}
	for _, m := range sec.Entries {
		if m.Block {
			flush()
			b.WriteString(m.Raw + "\n\n")
			current = ""
			continue
		}
		if m.Group != "" && !strings.EqualFold(current, m.Group) {
			flush()
			b.WriteString("### " + sec.groupHeading(m.Group) + "\n\n")
			current = m.Group
			used[strings.ToLower(m.Group)] = true
		}
		b.WriteString(m.Raw + "\n")
		pendingBullets = true
	}
	flush()
	for _, g := range sec.Groups {
		if !used[strings.ToLower(g.Project)] {
			b.WriteString("### " + g.Heading + "\n\n")
		}
	}
}
