// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders terminal output for the conductor CLI.
//
// A Printer is either styled (colors and icons, for terminals) or plain
// (stable prefixes such as "OK:" for scripts and pipes). NewPrinter picks
// the mode from the destination file.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Brand palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles holds the shared lipgloss styles.
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

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render colors the icon by meaning.
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

// plainPrefix is the script-friendly marker for each icon.
func (i Icon) plainPrefix() string {
	switch i {
	case IconSuccess:
		return "OK:"
	case IconWarning:
		return "WARN:"
	case IconError:
		return "ERROR:"
	case IconPending:
		return "SKIP:"
	default:
		return "-"
	}
}

// Printer writes CLI output.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter returns a printer for f, styled when f is a terminal and
// NO_COLOR is unset.
func NewPrinter(f *os.File) *Printer {
	styled := os.Getenv("NO_COLOR") == "" &&
		(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
	return &Printer{w: f, styled: styled}
}

// NewPlainPrinter returns an unstyled printer writing to w.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// NewStyledPrinter returns a styled printer writing to w.
func NewStyledPrinter(w io.Writer) *Printer {
	return &Printer{w: w, styled: true}
}

// Styled reports whether the printer emits colors and icons.
func (p *Printer) Styled() bool {
	return p.styled
}

// Writer returns the destination.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Title prints a heading. Plain printers print it unadorned.
func (p *Printer) Title(text string) {
	if p.styled {
		text = Styles.Title.Render(text)
	}
	fmt.Fprintln(p.w, text)
}

// Status prints one line led by icon.
func (p *Printer) Status(icon Icon, text string) {
	if !p.styled {
		fmt.Fprintf(p.w, "%s %s\n", icon.plainPrefix(), text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", icon.Render(), text)
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	if p.styled {
		text = Styles.Success.Render(text)
	}
	p.Status(IconSuccess, text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if p.styled {
		text = Styles.Warning.Render(text)
	}
	p.Status(IconWarning, text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if p.styled {
		text = Styles.Error.Render(text)
	}
	p.Status(IconError, text)
}

// Muted renders text in the muted style when styled.
func (p *Printer) Muted(text string) string {
	if !p.styled {
		return text
	}
	return Styles.Muted.Render(text)
}

// Line prints text as is.
func (p *Printer) Line(text string) {
	fmt.Fprintln(p.w, text)
}

// Lines prints each line, boxed when styled.
func (p *Printer) Lines(lines []string) {
	if len(lines) == 0 {
		return
	}
	text := strings.Join(lines, "\n")
	if p.styled {
		text = Styles.Box.Render(text)
	}
	fmt.Fprintln(p.w, text)
}

// KeyValue prints an aligned "key: value" line.
func (p *Printer) KeyValue(key, value string) {
	label := fmt.Sprintf("%-12s", key+":")
	if p.styled {
		label = Styles.Subtitle.Render(label)
	}
	fmt.Fprintf(p.w, "%s %s\n", label, value)
}
