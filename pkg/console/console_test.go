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

package console_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lassandro/goz3/pkg/assembler"
	"github.com/lassandro/goz3/pkg/console"
	"github.com/lassandro/goz3/pkg/machine"
	"github.com/lassandro/goz3/pkg/persist"
)

func newConsole(width int) (*console.Console, *bytes.Buffer) {
	var out bytes.Buffer

	c := console.New(&out, width)
	c.SetColor(false)

	return c, &out
}

func load(t *testing.T, host machine.Host, source string) *machine.Machine {
	t.Helper()

	image, errs := assembler.AssembleStory(strings.NewReader(source), nil)
	require.Empty(t, errs)

	mc, err := machine.New(image, host, machine.Options{Seed: 1})
	require.NoError(t, err)

	return mc
}

func TestWrap(t *testing.T) {
	c, out := newConsole(20)

	c.Print("The quick brown fox jumps over ")
	c.Println("the lazy dog.")
	c.Print(">")

	prompt := c.Prompt()

	assert.Equal(t, ">", prompt)
	assert.Equal(t, "The quick brown fox\njumps over the lazy\ndog.\n", out.String())

	c.Print("no newline")
	c.Flush()
	assert.True(t, strings.HasSuffix(out.String(), "no newline"))
}

func TestNoWrap(t *testing.T) {
	c, out := newConsole(0)
	line := strings.Repeat("word ", 40)

	c.Println(line)
	c.Flush()

	assert.Equal(t, line+"\n", out.String())
}

func TestStatusLine(t *testing.T) {
	c, out := newConsole(40)

	c.SetStatusLine("West of House", 10, 3)
	assert.Equal(t, "", c.Prompt())
	assert.Equal(t, " West of House      Score: 10  Moves: 3 \n", out.String())

	out.Reset()
	c.SetStatusLine(strings.Repeat("Long ", 10), -1, 0)
	c.Prompt()

	bar := strings.TrimSuffix(out.String(), "\n")
	assert.Len(t, bar, 40)
	assert.True(t, strings.HasPrefix(bar, " Long Long Long Lo~"), bar)
	assert.True(t, strings.HasSuffix(bar, "Score: -1  Moves: 0 "), bar)

	out.Reset()
	c.StatusLine = false
	c.SetStatusLine("Attic", 0, 0)
	c.Prompt()
	assert.Empty(t, out.String())
}

func TestStreamReader(t *testing.T) {
	var out bytes.Buffer

	reader := console.NewStreamReader(strings.NewReader("north\r\nsouth"), &out)
	reader.Echo = true

	line, err := reader.ReadLine("> ")
	require.NoError(t, err)
	assert.Equal(t, "north", line)

	line, err = reader.ReadLine("> ")
	require.NoError(t, err)
	assert.Equal(t, "south", line)

	_, err = reader.ReadLine("> ")
	assert.Error(t, err)
	assert.Equal(t, "> north\n> south\n> \n", out.String())
}

func TestStreamReaderEndsLine(t *testing.T) {
	tests := []struct {
		Name   string
		Echo   bool
		Output string
	}{
		{"Quiet", false, ">\n>\n"},
		{"Echo", true, ">open door\n>\n"},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			var out bytes.Buffer

			reader := console.NewStreamReader(strings.NewReader("open door\n"), &out)
			reader.Echo = test.Echo

			line, err := reader.ReadLine(">")
			require.NoError(t, err)
			assert.Equal(t, "open door", line)

			_, err = reader.ReadLine(">")
			assert.ErrorIs(t, err, io.EOF)

			if out.String() != test.Output {
				t.Fatalf("Transcript mismatch\nwant:%q\nhave:%q", test.Output, out.String())
			}
		})
	}
}

const echoStory = `
text  .bytes 20
      .buffer 20
parse .bytes 4 0
      .buffer 16
.start
loop
	print ">"
	sread text parse
	loadb text 1 -> sp
	je sp 113 ?done
	print "You said something."
	new_line
	jump loop
done
	print "Bye."
	new_line
	quit
`

func TestRun(t *testing.T) {
	c, out := newConsole(0)
	c.StatusLine = false

	mc := load(t, c, echoStory)

	reader := console.NewStreamReader(strings.NewReader("look\nquit\n"), out)
	reader.Echo = true

	require.NoError(t, console.Run(context.Background(), mc, c, reader))
	assert.Equal(t, ">look\nYou said something.\n>quit\nBye.\n", out.String())
	assert.Equal(t, machine.StatusHalted, mc.Status())
}

func TestRunEOF(t *testing.T) {
	c, out := newConsole(0)
	c.StatusLine = false

	mc := load(t, c, echoStory)
	reader := console.NewStreamReader(strings.NewReader("look\n"), out)

	require.NoError(t, console.Run(context.Background(), mc, c, reader))
	assert.Equal(t, ">\nYou said something.\n>\n", out.String())
	assert.NoError(t, mc.Err())
}

func TestRunCancelled(t *testing.T) {
	c, _ := newConsole(0)
	mc := load(t, c, ".start\nloop\njump loop\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := console.Run(ctx, mc, c, console.NewStreamReader(strings.NewReader(""), c.Out))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunFault(t *testing.T) {
	c, _ := newConsole(0)
	mc := load(t, c, ".start\ndiv 1 0 -> sp\nquit\n")

	err := console.Run(context.Background(), mc, c, console.NewStreamReader(strings.NewReader(""), c.Out))
	assert.ErrorIs(t, err, machine.ErrDivideByZero)
}

const saveStory = `
.global result
.start
	store result 5
	save ?saved
	print "failed"
	quit
saved
	print_num result
	new_line
	quit
`

func TestSave(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		c, out := newConsole(0)
		mc := load(t, c, saveStory)

		require.NoError(t, console.Run(context.Background(), mc, c, nil))
		assert.Equal(t, "[Save failed.]\nfailed", out.String())
	})

	t.Run("Slot", func(t *testing.T) {
		store, err := persist.OpenMemoryStore()
		require.NoError(t, err)
		defer store.Close()

		c, out := newConsole(0)
		mc := load(t, c, saveStory)

		slot := &persist.Slot{Store: store, Key: persist.Key(mc.Header, "")}
		c.Saver = slot

		require.NoError(t, console.Run(context.Background(), mc, c, nil))
		assert.Equal(t, "[Game saved.]\n5\n", out.String())

		snap, err := slot.Restore()
		require.NoError(t, err)
		assert.Equal(t, mc.Header.Serial, snap.Serial)

		snap, err = c.Restore()
		require.NoError(t, err)
		assert.Equal(t, mc.Header.Checksum, snap.Checksum)
	})
}
