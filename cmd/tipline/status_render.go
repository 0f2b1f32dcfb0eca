package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"tipline/internal/preflight"
	"tipline/internal/store"
)

// statusKind ranks a tip, file, mail or check state by how much operator
// attention it needs.
type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

var statusStyles = map[statusKind]struct {
	label  string
	colors text.Colors
}{
	statusInfo:  {"INFO", text.Colors{text.FgBlue}},
	statusOK:    {"OK", text.Colors{text.FgGreen}},
	statusWarn:  {"WARN", text.Colors{text.FgYellow}},
	statusError: {"ERROR", text.Colors{text.FgRed, text.Bold}},
}

func (k statusKind) paint(s string, colorize bool) string {
	if !colorize {
		return s
	}
	return statusStyles[k].colors.Sprint(s)
}

// markKind treats drafts as needing attention and delivered tips as settled.
func markKind(m store.Mark) statusKind {
	switch m {
	case store.MarkSubmission:
		return statusWarn
	case store.MarkFinalized:
		return statusInfo
	default:
		return statusOK
	}
}

func fileStatusKind(s store.FileStatus) statusKind {
	switch s {
	case store.FileReady:
		return statusOK
	case store.FileNoKey:
		return statusWarn
	case store.FileUnreadable:
		return statusError
	default:
		return statusInfo
	}
}

func notificationKind(m store.NotificationMark) statusKind {
	switch m {
	case store.NotificationSent:
		return statusOK
	case store.NotificationFailed:
		return statusError
	default:
		return statusInfo
	}
}

func checkKind(r preflight.Result) statusKind {
	switch {
	case r.Passed:
		return statusOK
	case r.Optional:
		return statusWarn
	default:
		return statusError
	}
}

const statusLabelWidth = 24

// renderStatusLine prints "  label:   [KIND] detail", colored by kind.
func renderStatusLine(label string, kind statusKind, detail string, colorize bool) string {
	status := "[" + statusStyles[kind].label + "]"
	if detail != "" {
		status += " " + detail
	}
	return kind.paint(fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", status), colorize)
}

func renderSectionHeader(title string, colorize bool) []string {
	line := "== " + strings.TrimSpace(title) + " =="
	rule := strings.Repeat("-", len(line))
	if colorize {
		header := text.Colors{text.FgCyan, text.Bold}
		return []string{header.Sprint(line), header.Sprint(rule)}
	}
	return []string{line, rule}
}

// renderTally summarizes state counts as "2 ready, 1 nokey", worst state first.
func renderTally[S ~string](counts map[S]int, kindOf func(S) statusKind, colorize bool) string {
	states := make([]S, 0, len(counts))
	for state, n := range counts {
		if n > 0 {
			states = append(states, state)
		}
	}
	if len(states) == 0 {
		return "-"
	}
	sort.Slice(states, func(i, j int) bool {
		ki, kj := kindOf(states[i]), kindOf(states[j])
		if ki != kj {
			return ki > kj
		}
		return states[i] < states[j]
	})
	parts := make([]string, len(states))
	for i, state := range states {
		parts[i] = kindOf(state).paint(fmt.Sprintf("%d %s", counts[state], state), colorize)
	}
	return strings.Join(parts, ", ")
}

// shouldColorize reports whether w is a terminal and NO_COLOR is unset.
func shouldColorize(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
