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

package main

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/lassandro/goz3/pkg/console"
)

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Columns of the terminal on stdout, or a fallback when it is not one.
func terminalWidth() int {
	winsize, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)

	if err != nil || winsize.Col == 0 {
		log.Debugf("no terminal size, wrapping at %d", console.FALLBACK_WIDTH)
		return console.FALLBACK_WIDTH
	}

	// Leave the last column free so a full line does not wrap twice
	return int(winsize.Col) - 1
}
