// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/scribeline/sessionkeeper/internal/lifecycle"
	"github.com/scribeline/sessionkeeper/internal/navigation"
	"github.com/scribeline/sessionkeeper/internal/session"
)

// printer writes watch events as timestamped lines. It is safe for
// concurrent use.
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	good *color.Color
	warn *color.Color
	bad  *color.Color
	dim  *color.Color
}

func newPrinter(out io.Writer, colored bool) *printer {
	p := &printer{
		out:  out,
		good: color.New(color.FgGreen),
		warn: color.New(color.FgYellow),
		bad:  color.New(color.FgRed, color.Bold),
		dim:  color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.good, p.warn, p.bad, p.dim} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// colorEnabled reports whether out is a terminal that should get colors.
func colorEnabled(out io.Writer, noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *printer) line(c *color.Color, at time.Time, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = p.dim.Fprintf(p.out, "%s ", at.Local().Format(time.TimeOnly))
	_, _ = c.Fprintf(p.out, format, args...)
	_, _ = fmt.Fprintln(p.out)
}

func (p *printer) info(format string, args ...any) {
	p.line(p.dim, time.Now(), format, args...)
}

func (p *printer) state(st session.State) {
	switch {
	case st.Phase == session.PhaseAuthenticated && st.Identity != nil:
		p.line(p.good, st.ChangedAt, "session authenticated as %s", st.Identity.Username)
	case st.Phase == session.PhaseUnauthenticated:
		p.line(p.warn, st.ChangedAt, "session unauthenticated")
	case st.Loading:
		p.line(p.dim, st.ChangedAt, "session %s, resolving identity", st.Phase)
	}
}

func (p *printer) cycle(r lifecycle.CycleResult) {
	switch r.Outcome {
	case lifecycle.CycleRefreshed, lifecycle.CycleProbed:
		p.line(p.good, r.At, "keep-alive %s", r.Outcome)
	case lifecycle.CycleFailed:
		p.line(p.bad, r.At, "keep-alive failed: %v", r.Err)
	case lifecycle.CycleTransient, lifecycle.CycleSkipped:
		p.line(p.warn, r.At, "keep-alive %s: %v", r.Outcome, r.Err)
	default:
		p.line(p.dim, r.At, "keep-alive %s", r.Outcome)
	}
}

func (p *printer) navigation(ev navigation.Event) {
	c := p.dim
	if ev.Reason == navigation.ReasonAuthFailure {
		c = p.bad
	}
	p.line(c, ev.At, "navigate to %s (%s)", ev.Target, ev.Reason)
}
