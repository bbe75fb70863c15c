package ledger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ubix08/orionflow/pkg/models"
)

// The todo document is a versioned, line-oriented markdown grammar:
//
//	<!-- orionflow:todo v1 -->
//	# Project <id>
//	- Objective: ...          (metadata block; newline and backslash escaped)
//	## Progress
//	<n>/<m> steps done
//	## Step <n>: <title> [<status>]
//	- Checkpoint: yes         (step attribute lines)
//	    <description>         (free text, 4-space indented; markup-safe)
//	```yaml worker-config
//	<worker config>
//	```
//	> <note>                  (free text, quoted; markup-safe)
//
// Step blocks may appear in any order in the document; numeric order is
// restored on parse. Free text survives embedded markup because headers and
// attributes are only recognized at column 0.

const docVersionMarker = "<!-- orionflow:todo v1 -->"

const timeLayout = time.RFC3339

// ParseError is a structured parse failure with the offending line number.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("todo document line %d: %s", e.Line, e.Msg)
}

// Encode renders the ledger into the v1 todo document.
func Encode(l *Ledger) []byte {
	var b strings.Builder
	b.WriteString(docVersionMarker + "\n\n")
	fmt.Fprintf(&b, "# Project %s\n\n", l.ProjectID)
	fmt.Fprintf(&b, "- Objective: %s\n", escapeMeta(l.Objective))
	fmt.Fprintf(&b, "- Plan: %s\n", escapeMeta(l.PlanID))
	fmt.Fprintf(&b, "- Created: %s\n", l.CreatedAt.UTC().Format(timeLayout))
	fmt.Fprintf(&b, "- Updated: %s\n", l.UpdatedAt.UTC().Format(timeLayout))
	b.WriteString("\n## Progress\n\n")
	fmt.Fprintf(&b, "%d/%d steps done\n", l.CompletedCount(), len(l.Steps))

	for _, s := range l.Steps {
		fmt.Fprintf(&b, "\n## Step %d: %s [%s]\n\n", s.Number, s.Title, s.Status)
		if s.Checkpoint {
			b.WriteString("- Checkpoint: yes\n")
		}
		if s.Worker != "" {
			fmt.Fprintf(&b, "- Worker: %s\n", s.Worker)
		}
		if len(s.DependsOn) > 0 {
			b.WriteString("- Depends: " + joinInts(s.DependsOn) + "\n")
		}
		if len(s.ExpectedOutputs) > 0 {
			b.WriteString("- Outputs: " + strings.Join(s.ExpectedOutputs, ", ") + "\n")
		}
		if s.StartedAt != nil {
			fmt.Fprintf(&b, "- Started: %s\n", s.StartedAt.UTC().Format(timeLayout))
		}
		if s.CompletedAt != nil {
			fmt.Fprintf(&b, "- Completed: %s\n", s.CompletedAt.UTC().Format(timeLayout))
		}
		if s.Description != "" {
			b.WriteString("\n")
			for _, line := range strings.Split(s.Description, "\n") {
				b.WriteString("    " + line + "\n")
			}
		}
		if s.WorkerConfig != "" {
			b.WriteString("\n```yaml worker-config\n")
			b.WriteString(s.WorkerConfig)
			b.WriteString("\n```\n")
		}
		if s.Note != "" {
			b.WriteString("\n")
			for _, line := range strings.Split(s.Note, "\n") {
				b.WriteString("> " + line + "\n")
			}
		}
	}
	return []byte(b.String())
}

// Parse reads a v1 todo document back into a ledger. It returns *ParseError
// for malformed documents; callers log it and treat the ledger as absent.
func Parse(data []byte) (*Ledger, error) {
	lines := strings.Split(string(data), "\n")
	l := &Ledger{}

	i := skipBlank(lines, 0)
	if i >= len(lines) || strings.TrimSpace(lines[i]) != docVersionMarker {
		return nil, &ParseError{Line: i + 1, Msg: "missing or unsupported version marker"}
	}
	i = skipBlank(lines, i+1)
	if i >= len(lines) || !strings.HasPrefix(lines[i], "# Project ") {
		return nil, &ParseError{Line: i + 1, Msg: "missing project header"}
	}
	l.ProjectID = strings.TrimSpace(strings.TrimPrefix(lines[i], "# Project "))
	i++

	// Metadata block.
	for ; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, "## ") {
			break
		}
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		key, val, ok := strings.Cut(line[2:], ": ")
		if !ok {
			// A bare "- Key:" with empty value.
			key = strings.TrimSuffix(line[2:], ":")
			val = ""
		}
		switch key {
		case "Objective":
			l.Objective = unescapeMeta(val)
		case "Plan":
			l.PlanID = unescapeMeta(val)
		case "Created":
			t, err := time.Parse(timeLayout, val)
			if err != nil {
				return nil, &ParseError{Line: i + 1, Msg: "bad created timestamp"}
			}
			l.CreatedAt = t.UTC()
		case "Updated":
			t, err := time.Parse(timeLayout, val)
			if err != nil {
				return nil, &ParseError{Line: i + 1, Msg: "bad updated timestamp"}
			}
			l.UpdatedAt = t.UTC()
		}
	}

	// Step blocks, in whatever order the document has them.
	seen := make(map[int]bool)
	for i < len(lines) {
		line := lines[i]
		if !strings.HasPrefix(line, "## Step ") {
			i++
			continue
		}
		step, next, err := parseStep(lines, i)
		if err != nil {
			return nil, err
		}
		if seen[step.Number] {
			return nil, &ParseError{Line: i + 1, Msg: fmt.Sprintf("duplicate step %d", step.Number)}
		}
		seen[step.Number] = true
		l.Steps = append(l.Steps, step)
		i = next
	}

	sort.Slice(l.Steps, func(a, b int) bool { return l.Steps[a].Number < l.Steps[b].Number })
	for idx, s := range l.Steps {
		if s.Number != idx+1 {
			return nil, &ParseError{Line: 1, Msg: fmt.Sprintf("step numbers not contiguous: missing step %d", idx+1)}
		}
	}
	return l, nil
}

func parseStep(lines []string, start int) (models.Step, int, error) {
	header := lines[start]
	rest := strings.TrimPrefix(header, "## Step ")
	numStr, tail, ok := strings.Cut(rest, ": ")
	if !ok {
		return models.Step{}, 0, &ParseError{Line: start + 1, Msg: "malformed step header"}
	}
	number, err := strconv.Atoi(numStr)
	if err != nil || number < 1 {
		return models.Step{}, 0, &ParseError{Line: start + 1, Msg: "bad step number"}
	}
	open := strings.LastIndex(tail, " [")
	if open < 0 || !strings.HasSuffix(tail, "]") {
		return models.Step{}, 0, &ParseError{Line: start + 1, Msg: "missing status marker"}
	}
	status := tail[open+2 : len(tail)-1]
	switch status {
	case models.StepPending, models.StepInProgress, models.StepCompleted, models.StepSkipped:
	default:
		return models.Step{}, 0, &ParseError{Line: start + 1, Msg: "unknown step status " + strconv.Quote(status)}
	}

	s := models.Step{Number: number, Title: tail[:open], Status: status}
	var desc, note []string
	i := start + 1
	for ; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "## "):
			goto done
		case strings.HasPrefix(line, "- "):
			key, val, _ := strings.Cut(line[2:], ": ")
			switch key {
			case "Checkpoint":
				s.Checkpoint = val == "yes"
			case "Worker":
				s.Worker = val
			case "Depends":
				deps, err := splitInts(val)
				if err != nil {
					return models.Step{}, 0, &ParseError{Line: i + 1, Msg: "bad dependency list"}
				}
				s.DependsOn = deps
			case "Outputs":
				for _, o := range strings.Split(val, ", ") {
					if o != "" {
						s.ExpectedOutputs = append(s.ExpectedOutputs, o)
					}
				}
			case "Started":
				t, err := time.Parse(timeLayout, val)
				if err != nil {
					return models.Step{}, 0, &ParseError{Line: i + 1, Msg: "bad started timestamp"}
				}
				u := t.UTC()
				s.StartedAt = &u
			case "Completed":
				t, err := time.Parse(timeLayout, val)
				if err != nil {
					return models.Step{}, 0, &ParseError{Line: i + 1, Msg: "bad completed timestamp"}
				}
				u := t.UTC()
				s.CompletedAt = &u
			}
		case strings.HasPrefix(line, "    "):
			desc = append(desc, line[4:])
		case strings.HasPrefix(line, "> "):
			note = append(note, line[2:])
		case line == ">":
			note = append(note, "")
		case line == "```yaml worker-config":
			var cfg []string
			for i++; i < len(lines) && lines[i] != "```"; i++ {
				cfg = append(cfg, lines[i])
			}
			if i >= len(lines) {
				return models.Step{}, 0, &ParseError{Line: i, Msg: "unterminated worker config block"}
			}
			s.WorkerConfig = strings.Join(cfg, "\n")
		}
	}
done:
	s.Description = strings.Join(desc, "\n")
	s.Note = strings.Join(note, "\n")
	return s, i, nil
}

// Metadata values live on one document line; embedded newlines and
// backslashes are escaped so they survive the round trip.
func escapeMeta(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "\n", `\n`)
}

func unescapeMeta(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func skipBlank(lines []string, i int) int {
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	return i
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}

func splitInts(s string) ([]int, error) {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
