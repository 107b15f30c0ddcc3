// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the Aleutian CLIs.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = ColorTealBright
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
)

// Mode selects how much decoration a Printer emits.
type Mode int

const (
	// ModeRich uses colors and icons.
	ModeRich Mode = iota

	// ModeMachine writes "OK: ..." style lines that scripts can grep.
	ModeMachine
)

// styles are bound to one renderer so color detection follows the writer,
// not os.Stdout.
type styles struct {
	title   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
	border  lipgloss.Style
}

// Printer writes styled messages and tables to one writer.
type Printer struct {
	w      io.Writer
	mode   Mode
	styles styles
}

// NewPrinter returns a Printer for w. Writers that are not a terminal get
// ModeMachine.
func NewPrinter(w io.Writer) *Printer {
	mode := ModeMachine
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		mode = ModeRich
	}
	return NewPrinterMode(w, mode)
}

// NewPrinterMode returns a Printer with an explicit mode.
func NewPrinterMode(w io.Writer, mode Mode) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:    w,
		mode: mode,
		styles: styles{
			title:   r.NewStyle().Bold(true).Foreground(ColorTealBright),
			muted:   r.NewStyle().Foreground(ColorSlate),
			success: r.NewStyle().Foreground(ColorSuccess),
			warning: r.NewStyle().Foreground(ColorWarning),
			err:     r.NewStyle().Foreground(ColorError),
			header:  r.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
			cell:    r.NewStyle().Padding(0, 1),
			border:  r.NewStyle().Foreground(ColorTealDeep),
		},
	}
}

// Mode reports the printer's mode.
func (p *Printer) Mode() Mode { return p.mode }

func (p *Printer) line(prefix string, icon Icon, style lipgloss.Style, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "%s: %s\n", prefix, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", style.Render(string(icon)), style.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(format string, args ...any) {
	p.line("OK", IconSuccess, p.styles.success, format, args...)
}

// Warning prints a warning message
func (p *Printer) Warning(format string, args ...any) {
	p.line("WARN", IconWarning, p.styles.warning, format, args...)
}

// Failure prints an error message
func (p *Printer) Failure(format string, args ...any) {
	p.line("ERROR", IconError, p.styles.err, format, args...)
}

// Title prints a styled title. Machine mode skips it.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.w, p.styles.title.Render(text))
}

// Status colors a lifecycle state: live states in teal, paused or
// draining states in amber, terminal states in red, and anything that
// has not started yet muted.
func (p *Printer) Status(state string) string {
	if p.mode == ModeMachine {
		return state
	}
	switch strings.ToUpper(state) {
	case "ACTIVE", "SUCCEEDED", "VALID":
		return p.styles.success.Render(state)
	case "SUSPENDED", "DEPROVISIONING", "RUNNING", "FAILED":
		return p.styles.warning.Render(state)
	case "DELETED", "ABORTED", "BROKEN":
		return p.styles.err.Render(state)
	default:
		return p.styles.muted.Render(state)
	}
}

// Table renders rows under headers. Machine mode writes tab-separated
// lines with the header first.
func (p *Printer) Table(headers []string, rows [][]string) error {
	if p.mode == ModeMachine {
		var b strings.Builder
		b.WriteString(strings.Join(headers, "\t"))
		b.WriteByte('\n')
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
		_, err := io.WriteString(p.w, b.String())
		return err
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.styles.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.styles.header
			}
			return p.styles.cell
		})
	_, err := fmt.Fprintln(p.w, t.Render())
	return err
}
