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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"gopkg.in/urfave/cli.v1"

	"github.com/lassandro/goz3/pkg/assembler"
	"github.com/lassandro/goz3/pkg/config"
	"github.com/lassandro/goz3/pkg/console"
	"github.com/lassandro/goz3/pkg/debugger"
	"github.com/lassandro/goz3/pkg/machine"
	"github.com/lassandro/goz3/pkg/persist"
)

var log = commonlog.GetLogger("goz3")

var stdout = colorable.NewColorableStdout()
var stderr = colorable.NewColorableStderr()

var globalFlags = []cli.Flag{
	cli.StringFlag{Name: "config, c", Usage: "Read settings from a TOML file"},
	cli.IntFlag{Name: "verbose, v", Usage: "Log verbosity; higher logs more"},
	cli.StringFlag{Name: "log-file", Usage: "Write logs to a file instead of stderr"},
}

var runFlags = []cli.Flag{
	cli.StringFlag{Name: "script, s", Usage: "Read commands from a file instead of the terminal"},
	cli.BoolFlag{Name: "debug, d", Usage: "Run the story under the debugger"},
	cli.Int64Flag{Name: "seed", Usage: "Seed the random number generator"},
	cli.StringFlag{Name: "save-backend", Usage: "Where saved games go: file, leveldb or memory"},
	cli.StringFlag{Name: "save-path", Usage: "Directory or database for saved games"},
	cli.StringFlag{Name: "slot", Usage: "Name of the save slot"},
	cli.IntFlag{Name: "width, w", Usage: "Wrap output at this many columns"},
	cli.BoolFlag{Name: "no-status", Usage: "Do not draw the status line"},
	cli.BoolFlag{Name: "no-color", Usage: "Do not use terminal colors"},
}

func main() {
	app := cli.NewApp()
	app.Name = "goz3"
	app.Usage = "plays version 3 Z-machine stories"
	app.ArgsUsage = "story"
	app.Version = "1.0.0"
	app.Flags = append(append([]cli.Flag{}, globalFlags...), runFlags...)
	app.Action = run
	app.Commands = []cli.Command{
		{
			Name:      "run",
			Usage:     "Play a story",
			ArgsUsage: "story",
			Flags:     runFlags,
			Action:    run,
		},
		{
			Name:      "dump",
			Usage:     "Describe a story file without running it",
			ArgsUsage: "story",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "disassemble, n", Usage: "Disassemble this many instructions from the start"},
				cli.BoolFlag{Name: "objects", Usage: "List the object tree"},
				cli.BoolFlag{Name: "dictionary", Usage: "List the dictionary"},
			},
			Action: dump,
		},
		{
			Name:      "verify",
			Usage:     "Check a story file against its checksum",
			ArgsUsage: "story",
			Action:    verify,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(stderr, err)
		os.Exit(1)
	}
}

// Loads settings and applies command line overrides.
func settings(ctx *cli.Context) (*config.Config, error) {
	conf, err := config.Load(ctx.GlobalString("config"))

	if err != nil {
		return nil, err
	}

	if ctx.GlobalIsSet("verbose") {
		conf.Log.Verbosity = ctx.GlobalInt("verbose")
	}

	if path := ctx.GlobalString("log-file"); path != "" {
		conf.Log.File = path
	}

	if ctx.IsSet("seed") {
		conf.Machine.Seed = ctx.Int64("seed")
	}

	if backend := ctx.String("save-backend"); backend != "" {
		conf.Saves.Backend = backend
	}

	if path := ctx.String("save-path"); path != "" {
		conf.Saves.Path = path
	}

	if slot := ctx.String("slot"); slot != "" {
		conf.Saves.Slot = slot
	}

	if ctx.IsSet("width") {
		conf.Display.Width = ctx.Int("width")
	}

	if ctx.Bool("no-status") {
		conf.Display.StatusLine = false
	}

	if ctx.Bool("no-color") {
		conf.Display.Color = false
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	if conf.Log.File != "" {
		commonlog.Configure(conf.Log.Verbosity, &conf.Log.File)
	} else {
		commonlog.Configure(conf.Log.Verbosity, nil)
	}

	return conf, nil
}

func loadStory(ctx *cli.Context, host machine.Host, opts machine.Options) (*machine.Machine, string, error) {
	if len(ctx.Args()) != 1 {
		return nil, "", fmt.Errorf("usage: %s [options] story", ctx.App.Name)
	}

	path := ctx.Args().First()
	image, err := os.ReadFile(path)

	if err != nil {
		return nil, "", err
	}

	mc, err := machine.New(image, host, opts)

	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	return mc, path, nil
}

func run(ctx *cli.Context) error {
	conf, err := settings(ctx)

	if err != nil {
		return err
	}

	width := conf.Display.Width

	if width == 0 {
		width = terminalWidth()
	}

	host := console.New(stdout, width)
	host.StatusLine = conf.Display.StatusLine
	host.SetColor(conf.Display.Color)

	var script *bufio.Reader

	if name := ctx.String("script"); name != "" {
		file, err := os.Open(name)

		if err != nil {
			return err
		}

		defer file.Close()

		script = bufio.NewReader(file)

		if seed, ok := scriptSeed(script); ok && !ctx.IsSet("seed") {
			conf.Machine.Seed = seed
		}
	}

	mc, path, err := loadStory(ctx, host, conf.MachineOptions())

	if err != nil {
		return err
	}

	store, err := persist.Open(conf.Saves.Backend, conf.Saves.Path)

	if err != nil {
		return err
	}

	defer store.Close()

	host.Saver = &persist.Slot{Store: store, Key: persist.Key(mc.Header, conf.Saves.Slot)}

	var reader console.LineReader

	switch {
	case script != nil:
		stream := console.NewStreamReader(script, stdout)
		stream.Echo = true
		reader = stream
	case isInteractive():
		lines := console.NewLinerReader()
		defer lines.Close()
		reader = lines
	default:
		reader = console.NewStreamReader(os.Stdin, stdout)
	}

	runctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if ctx.Bool("debug") {
		debugInput := reader

		// Script lines are for the story; the debugger still reads stdin
		if script != nil {
			debugInput = console.NewStreamReader(os.Stdin, stdout)
		}

		session := newDebugSession(mc, host, debugInput, cancel)
		session.loadSymbols(path)
		defer session.close()

		interrupts := make(chan os.Signal, 1)
		signal.Notify(interrupts, os.Interrupt)
		defer signal.Stop(interrupts)

		go func() {
			for range interrupts {
				fmt.Fprintln(stdout)
				session.dbg.Break = true
			}
		}()

		session.repl()
	}

	err = console.Run(runctx, mc, host, reader)

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func dump(ctx *cli.Context) error {
	if _, err := settings(ctx); err != nil {
		return err
	}

	mc, _, err := loadStory(ctx, machine.NopHost{}, machine.Options{Seed: 1})

	if err != nil {
		return err
	}

	dbg := debugger.New(stdout)
	dbg.PrintHeader(mc)

	if ctx.Bool("objects") {
		if err := dbg.PrintObjects(mc, 0, 0); err != nil {
			return err
		}
	}

	if ctx.Bool("dictionary") {
		if err := dbg.PrintDictionary(mc); err != nil {
			return err
		}
	}

	if n := ctx.Int("disassemble"); n > 0 {
		return dbg.Disassemble(mc, mc.Header.InitialPC, n)
	}

	return nil
}

func verify(ctx *cli.Context) error {
	if _, err := settings(ctx); err != nil {
		return err
	}

	mc, path, err := loadStory(ctx, machine.NopHost{}, machine.Options{Seed: 1})

	if err != nil {
		return err
	}

	sum := machine.Checksum(mc.Memory.Bytes(), mc.Header.FileLength)

	if sum != mc.Header.Checksum {
		return fmt.Errorf(
			"%s: checksum is %#04x, header says %#04x",
			filepath.Base(path), sum, mc.Header.Checksum,
		)
	}

	fmt.Fprintf(stdout, "%s: ok (release %d, serial %s)\n",
		filepath.Base(path), mc.Header.Release, mc.Header.SerialString())

	return nil
}

// A script may start with a line holding only a nonzero PRNG seed, so that
// replays are deterministic.
func scriptSeed(script *bufio.Reader) (int64, bool) {
	peek, _ := script.Peek(32)
	end := bytes.IndexByte(peek, '\n')

	if end < 0 {
		return 0, false
	}

	seed, err := strconv.ParseInt(strings.TrimSpace(string(peek[:end])), 10, 64)

	// Seed 0 asks for the clock, which would make the script unrepeatable
	if err != nil || seed == 0 {
		return 0, false
	}

	script.Discard(end + 1)

	return seed, true
}

// Symbol file written next to the story by goz3-asm -debug.
func symbolPath(story string) string {
	return strings.TrimSuffix(story, filepath.Ext(story)) + ".z3db"
}

func readSymbols(story string) (*assembler.SymTable, error) {
	file, err := os.Open(symbolPath(story))

	if err != nil {
		return nil, err
	}

	defer file.Close()

	return assembler.ReadSymTable(file)
}
