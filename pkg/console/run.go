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
	"context"
	"errors"
	"io"

	"github.com/lassandro/goz3/pkg/machine"
)

// Drives mc until it halts, feeding it lines from in whenever it waits for
// input. End of input halts the machine cleanly.
func Run(ctx context.Context, mc *machine.Machine, host *Console, in LineReader) error {
	defer host.Flush()

	for {
		status, err := mc.Run(ctx)

		if err != nil {
			return err
		}

		if status == machine.StatusHalted {
			return nil
		}

		line, err := in.ReadLine(host.Prompt())

		switch {
		case errors.Is(err, io.EOF):
			log.Info("end of input")
			status, err = mc.ResumeEOF()
		case err != nil:
			return err
		default:
			status, err = mc.Resume(line)
		}

		if err != nil || status == machine.StatusHalted {
			return err
		}
	}
}
