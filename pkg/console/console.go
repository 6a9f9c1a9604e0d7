// Copyright (C) 2021  Antonio Lassandro

// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.

// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for
// more details.

// You should have received a copy of the GNU General Public License along
// with this program.  If not, see <http://www.gnu.org/licenses/>.

// A line-oriented terminal host for the machine: word-wrapped output, a
// status bar drawn before each prompt, and saves routed to a persist slot.
package console

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/mitchellh/go-wordwrap"
	"github.com/tliron/commonlog"

	"github.com/lassandro/goz3/pkg/machine"
)

var log = commonlog.GetLogger("goz3.console")

const FALLBACK_WIDTH = 80

var ErrNoSaver = errors.New("saving is disabled")

// The saving half of machine.Host.
type Saver interface {
	Save(snap *machine.Snapshot) error
	Restore() (*machine.Snapshot, error)
}

type Console struct {
	Out io.Writer

	// Columns to wrap at; 0 disables wrapping
	Width int

	StatusLine bool
	Saver      Saver

	pending strings.Builder
	status  string

	statusColor *color.Color
	noticeColor *color.Color
}

func New(out io.Writer, width int) *Console {
	return &Console{
		Out:         out,
		Width:       width,
		StatusLine:  true,
		statusColor: color.New(color.ReverseVideo),
		noticeColor: color.New(color.FgYellow),
	}
}

func (c *Console) SetColor(enabled bool) {
	for _, attr := range []*color.Color{c.statusColor, c.noticeColor} {
		if enabled {
			attr.EnableColor()
		} else {
			attr.DisableColor()
		}
	}
}

func (c *Console) Print(text string) {
	c.pending.WriteString(text)
}

func (c *Console) Println(text string) {
	c.pending.WriteString(text)
	c.pending.WriteByte('\n')
}

func (c *Console) SetStatusLine(location string, score int16, moves int16) {
	if !c.StatusLine {
		return
	}

	c.status = c.statusBar(location, score, moves)
}

// Location on the left, score and moves on the right, padded to the width.
func (c *Console) statusBar(location string, score int16, moves int16) string {
	width := c.Width

	if width <= 0 {
		width = FALLBACK_WIDTH
	}

	right := fmt.Sprintf("Score: %d  Moves: %d ", score, moves)
	room := width - runewidth.StringWidth(right) - 2

	if room < 0 {
		room = 0
	}

	left := " " + runewidth.Truncate(location, room, "~")
	gap := width - runewidth.StringWidth(left) - runewidth.StringWidth(right)

	if gap < 1 {
		gap = 1
	}

	return left + strings.Repeat(" ", gap) + right
}

func (c *Console) Notify(message string) {
	c.Flush()
	c.noticeColor.Fprintln(c.Out, "["+message+"]")
}

func (c *Console) Save(snap *machine.Snapshot) error {
	if c.Saver == nil {
		return ErrNoSaver
	}

	return c.Saver.Save(snap)
}

func (c *Console) Restore() (*machine.Snapshot, error) {
	if c.Saver == nil {
		return nil, ErrNoSaver
	}

	return c.Saver.Restore()
}

func (c *Console) wrap(text string) string {
	if c.Width <= 0 {
		return text
	}

	return wordwrap.WrapString(text, uint(c.Width))
}

// Writes every complete line of pending output, then the status bar if one
// is due. The unfinished last line is handed back to be used as the input
// prompt.
func (c *Console) Prompt() string {
	text := c.wrap(c.pending.String())
	c.pending.Reset()

	prompt := text

	if cut := strings.LastIndexByte(text, '\n'); cut >= 0 {
		io.WriteString(c.Out, text[:cut+1])
		prompt = text[cut+1:]
	}

	if c.status != "" {
		c.statusColor.Fprint(c.Out, c.status)
		io.WriteString(c.Out, "\n")
		c.status = ""
	}

	return prompt
}

// Writes all pending output.
func (c *Console) Flush() {
	if c.pending.Len() == 0 {
		return
	}

	io.WriteString(c.Out, c.wrap(c.pending.String()))
	c.pending.Reset()
}

var _ machine.Host = (*Console)(nil)
