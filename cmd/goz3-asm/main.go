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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"gopkg.in/urfave/cli.v1"

	"github.com/lassandro/goz3/pkg/assembler"
)

var stderr = colorable.NewColorableStderr()

var (
	bold = color.New(color.Bold)
	red  = color.New(color.FgRed)
)

func main() {
	app := cli.NewApp()
	app.Name = "goz3-asm"
	app.Usage = "assembles a version 3 story file"
	app.ArgsUsage = "[filename]"
	app.HideVersion = true
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name: "debug",
			Usage: "Generate debugging information as a symbol table. The " +
				"table uses the output filename with extension '.z3db'",
		},
		cli.StringFlag{
			Name: "out, o",
			Usage: "Specifies a precise name for the output file, " +
				"overriding the default means of determining it",
		},
	}
	app.Action = assemble

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// Prints err, and for errors with a position, the offending line with the
// token underlined.
func report(prefix string, input io.ReadSeeker, err error) {
	bold.Fprint(stderr, prefix+":")
	fmt.Fprintln(stderr, err)

	tokenErr, ok := err.(assembler.TokenError)

	if !ok || input == nil {
		return
	}

	cursor := tokenErr.GetPosition()

	if _, err := input.Seek(cursor.LineByte, io.SeekStart); err != nil {
		return
	}

	line, _ := bufio.NewReader(input).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")

	size := int(cursor.Size)

	if size < 1 {
		size = 1
	}

	fmt.Fprintln(stderr, line)
	red.Fprintln(
		stderr,
		strings.Repeat(" ", int(cursor.Byte-cursor.LineByte))+
			"^"+strings.Repeat("~", size-1),
	)
}

func assemble(ctx *cli.Context) error {
	args := ctx.Args()
	outvar := ctx.String("out")

	var infile string
	var input io.ReadSeeker
	prefix := "<stdin>"

	if stat, _ := os.Stdin.Stat(); len(args) == 0 && stat.Mode()&os.ModeCharDevice == 0 {
		// Pipes cannot seek, so errors are reported without source lines
		if outvar == "" {
			outvar = "out.z3"
		}
	} else {
		if len(args) != 1 {
			cli.ShowAppHelp(ctx)
			return cli.NewExitError("", 1)
		}

		file, err := os.Open(args[0])

		if err != nil {
			fmt.Fprintln(stderr, err)
			return err
		}

		defer file.Close()

		filename := filepath.Base(file.Name())

		if stat, err := file.Stat(); err != nil {
			fmt.Fprintln(stderr, err)
			return err
		} else if stat.IsDir() {
			err := fmt.Errorf("%s is not a valid story assembly file", filename)
			fmt.Fprintln(stderr, err)
			return err
		}

		input = file
		infile = file.Name()
		prefix = filename

		if outvar == "" {
			outvar = strings.TrimSuffix(filename, filepath.Ext(filename)) + ".z3"
		}
	}

	var symtable *assembler.SymTable

	if ctx.Bool("debug") {
		symtable = assembler.NewSymTable()

		if infile != "" {
			if abs, err := filepath.Abs(infile); err == nil {
				symtable.Source = abs
			}
		}
	}

	var source io.Reader = os.Stdin

	if input != nil {
		source = input
	}

	result, errs := assembler.AssembleStory(source, symtable)

	if len(errs) > 0 {
		for _, err := range errs {
			report(prefix, input, err)
		}

		return fmt.Errorf("%d errors", len(errs))
	}

	if err := os.WriteFile(outvar, result, 0o666); err != nil {
		fmt.Fprintln(stderr, "Error writing output file")
		fmt.Fprintln(stderr, err)
		return err
	}

	if symtable != nil {
		filename := strings.TrimSuffix(outvar, filepath.Ext(outvar)) + ".z3db"
		file, err := os.Create(filename)

		if err != nil {
			fmt.Fprintln(stderr, "Error creating symbol table")
			fmt.Fprintln(stderr, err)
			return err
		}

		defer file.Close()

		if _, err := symtable.WriteTo(file); err != nil {
			fmt.Fprintln(stderr, "Error writing symbol table")
			fmt.Fprintln(stderr, err)
			return err
		}
	}

	return nil
}
