// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the bench CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle: lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:     lipgloss.NewStyle().Bold(true),
	Muted:    lipgloss.NewStyle().Foreground(ColorSlate),
	Success:  lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// -----------------------------------------------------------------------------
// Printer
// -----------------------------------------------------------------------------

// Printer writes styled lines to a writer. In plain mode, used when the
// writer is not a terminal or NO_COLOR is set, text is written unstyled
// and icons are replaced with ASCII tags.
//
// The first write error is retained and reported by Err; later writes
// are skipped.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	out   io.Writer
	plain bool
	err   error
}

// NewPrinter creates a printer that styles output only when w is a
// terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{out: w, plain: !IsTerminal(w) || os.Getenv("NO_COLOR") != ""}
}

// NewPlainPrinter creates a printer that never styles output.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{out: w, plain: true}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Plain reports whether styling is disabled.
func (p *Printer) Plain() bool {
	return p.plain
}

// Err returns the first write error.
func (p *Printer) Err() error {
	return p.err
}

// Style renders text with s unless the printer is plain.
func (p *Printer) Style(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Render(text)
}

// Icon renders i, or an ASCII tag in plain mode.
func (p *Printer) Icon(i Icon) string {
	if !p.plain {
		return i.Render()
	}
	switch i {
	case IconSuccess:
		return "[ok]"
	case IconWarning:
		return "[warn]"
	case IconError:
		return "[fail]"
	case IconArrow:
		return "->"
	case IconBullet:
		return "-"
	default:
		return "[ ]"
	}
}

// Printf writes formatted text.
func (p *Printer) Printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.out, format, args...)
}

// Title prints a styled title line.
func (p *Printer) Title(text string) {
	p.Printf("%s\n", p.Style(Styles.Title, text))
}

// Section prints a subtitle line preceded by a blank line.
func (p *Printer) Section(text string) {
	p.Printf("\n%s\n", p.Style(Styles.Subtitle, text))
}

// Success prints a success message with checkmark.
func (p *Printer) Success(text string) {
	p.Printf("%s %s\n", p.Icon(IconSuccess), p.Style(Styles.Success, text))
}

// Warning prints a warning message.
func (p *Printer) Warning(text string) {
	p.Printf("%s %s\n", p.Icon(IconWarning), p.Style(Styles.Warning, text))
}

// Error prints an error message.
func (p *Printer) Error(text string) {
	p.Printf("%s %s\n", p.Icon(IconError), p.Style(Styles.Error, text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	p.Printf("  %s\n", text)
}

// Muted prints secondary text.
func (p *Printer) Muted(text string) {
	p.Printf("%s\n", p.Style(Styles.Muted, text))
}

// Table prints rows with left-aligned columns padded to the widest cell.
// Headers are bold when styled.
func (p *Printer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len([]rune(h))
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], len([]rune(row[i])))
		}
	}

	p.Printf("  %s\n", p.Style(Styles.Bold, padRow(headers, widths)))
	for _, row := range rows {
		p.Printf("  %s\n", padRow(row, widths))
	}
}

func padRow(cells []string, widths []int) string {
	var b strings.Builder
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		b.WriteString(cell)
		if i < len(widths)-1 {
			b.WriteString(strings.Repeat(" ", w-len([]rune(cell))+2))
		}
	}
	return strings.TrimRight(b.String(), " ")
}
