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

package console

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/peterh/liner"
)

// Source of player commands. ReadLine returns io.EOF when input runs out.
type LineReader interface {
	ReadLine(prompt string) (string, error)
}

// Reads lines from a pipe or command script. Nothing echoes piped input, so
// the reader ends the prompt line itself. With Echo set the line is written
// back after the prompt as well.
type StreamReader struct {
	In   *bufio.Reader
	Out  io.Writer
	Echo bool
}

func NewStreamReader(in io.Reader, out io.Writer) *StreamReader {
	return &StreamReader{In: bufio.NewReader(in), Out: out}
}

func (r *StreamReader) ReadLine(prompt string) (string, error) {
	io.WriteString(r.Out, prompt)

	line, err := r.In.ReadString('\n')

	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			io.WriteString(r.Out, "\n")
		}

		return "", err
	}

	line = strings.TrimRight(line, "\r\n")

	if r.Echo {
		io.WriteString(r.Out, line)
	}

	io.WriteString(r.Out, "\n")

	return line, nil
}

// Interactive line editing with history.
type LinerReader struct {
	state *liner.State
}

func NewLinerReader() *LinerReader {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)

	return &LinerReader{state: state}
}

func (r *LinerReader) ReadLine(prompt string) (string, error) {
	line, err := r.state.Prompt(prompt)

	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}

	if err != nil {
		return "", err
	}

	if strings.TrimSpace(line) != "" {
		r.state.AppendHistory(line)
	}

	return line, nil
}

func (r *LinerReader) Close() error {
	return r.state.Close()
}
