// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/session"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

var consoleHistory string

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive command shell",
	Long: `Open a line-editing shell to send commands to the controller.

Type "help" for the command list. Tab completes command names, history is
kept between runs. Ctrl-C cancels the current line, Ctrl-D or "quit" exits.

Readings and connection changes are printed as they arrive.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVar(&consoleHistory, "history", defaultHistoryFile(), "History file (empty to disable)")
}

func defaultHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dewstat_history"
	}
	return filepath.Join(home, ".dewstat_history")
}

// consoleCommand is one shell command
type consoleCommand struct {
	Name        string
	Usage       string
	Description string
	MinArgs     int
	MaxArgs     int
	Handler     func(c *console, args []string) error
}

// console is the state of an interactive shell
type console struct {
	ctx  context.Context
	sess *session.Session
	out  io.Writer
	raw  atomic.Bool
	quit bool
}

var consoleCommands map[string]consoleCommand

func init() {
	consoleCommands = map[string]consoleCommand{
		"hello":  protocolCommand("hello", "", "Check the controller answers"),
		"status": protocolCommand("status", "", "Read the sensors"),
		"delta":  protocolCommand("delta", "<0-9>", "Set the temperature delta"),
		"offset": protocolCommand("offset", "<0-9>", "Set the dew point offset"),
		"full":   protocolCommand("full", "<0-100>", "Fixed power, in percent"),
		"regul":  protocolCommand("regul", "", "Regulated mode"),
		"save":   protocolCommand("save", "", "Store the settings in EEPROM"),
		"hex": {
			Name: "hex", Usage: "hex <bytes>", Description: "Send raw bytes, e.g. hex 30 or hex 0x3135",
			MinArgs: 1, MaxArgs: dewproto.MaxBufferSize,
			Handler: func(c *console, args []string) error {
				data, err := dewproto.ParseHex(strings.Join(args, " "))
				if err != nil {
					return err
				}
				ack, err := c.sess.SendRaw(c.ctx, data)
				if ack == nil {
					return err
				}
				fmt.Fprintln(c.out, describeAck(*ack))
				return nil
			},
		},
		"stats": {
			Name: "stats", Usage: "stats [reset]", Description: "Show or reset statistics", MaxArgs: 1,
			Handler: func(c *console, args []string) error {
				if len(args) == 1 {
					if args[0] != "reset" {
						return fmt.Errorf("usage: stats [reset]")
					}
					c.sess.ResetStatistics()
					fmt.Fprintln(c.out, "Statistics reset")
					return nil
				}
				fmt.Fprint(c.out, c.sess.Statistics())
				return nil
			},
		},
		"state": {
			Name: "state", Usage: "state", Description: "Show the session state",
			Handler: func(c *console, args []string) error {
				fmt.Fprintf(c.out, "State: %s\n", c.sess.State())
				if remaining := c.sess.BootRemaining(); remaining > 0 {
					fmt.Fprintf(c.out, "Next boot command in %.1fs\n", remaining.Seconds())
				}
				return nil
			},
		},
		"raw": {
			Name: "raw", Usage: "raw", Description: "Toggle raw byte display",
			Handler: func(c *console, args []string) error {
				on := !c.raw.Load()
				c.raw.Store(on)
				if on {
					fmt.Fprintln(c.out, "Raw display on")
				} else {
					fmt.Fprintln(c.out, "Raw display off")
				}
				return nil
			},
		},
		"help": {
			Name: "help", Usage: "help", Description: "List commands",
			Handler: func(c *console, args []string) error {
				for _, name := range commandNames() {
					cmd := consoleCommands[name]
					fmt.Fprintf(c.out, "  %-16s %s\n", cmd.Usage, cmd.Description)
				}
				return nil
			},
		},
		"quit": {
			Name: "quit", Usage: "quit", Description: "Leave the console",
			Handler: func(c *console, args []string) error {
				c.quit = true
				return nil
			},
		},
	}
}

// protocolCommand builds a shell command that sends a controller command
func protocolCommand(name, arg, description string) consoleCommand {
	usage := name
	maxArgs := 0
	if arg != "" {
		usage += " " + arg
		maxArgs = 1
	}
	return consoleCommand{
		Name:        name,
		Usage:       usage,
		Description: description,
		MinArgs:     maxArgs,
		MaxArgs:     maxArgs,
		Handler: func(c *console, args []string) error {
			command, value, err := parseCommandArgs(append([]string{name}, args...))
			if err != nil {
				return err
			}
			ack, err := c.sess.Do(c.ctx, command, value)
			if ack == nil {
				return err
			}
			fmt.Fprintln(c.out, describeAck(*ack))
			return nil
		},
	}
}

func commandNames() []string {
	names := make([]string, 0, len(consoleCommands))
	for name := range consoleCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// completeCommand returns the command names starting with line
func completeCommand(line string) []string {
	var matches []string
	for _, name := range commandNames() {
		if strings.HasPrefix(name, strings.ToLower(line)) {
			matches = append(matches, name)
		}
	}
	return matches
}

// execute runs one input line
func (c *console) execute(input string) error {
	tokens := strings.Fields(input)
	if len(tokens) == 0 {
		return nil
	}
	name := strings.ToLower(tokens[0])
	if name == "exit" {
		name = "quit"
	}

	cmd, ok := consoleCommands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (type \"help\")", tokens[0])
	}
	args := tokens[1:]
	if len(args) < cmd.MinArgs || len(args) > cmd.MaxArgs {
		return fmt.Errorf("usage: %s", cmd.Usage)
	}
	return cmd.Handler(c, args)
}

// consoleEvent renders asynchronous events. Results of commands typed in the
// shell are printed by their handler.
func consoleEvent(ev session.Event, raw bool) string {
	if e, ok := ev.(session.CommandAcknowledged); ok && !e.Boot {
		return ""
	}
	return formatEvent(ev, raw)
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	out, err := openSinks(ctx)
	if err != nil {
		return err
	}
	defer out.Close()

	// Log lines would break the prompt
	if closer, err := redirectLogToFile(); err == nil {
		defer closer.Close()
	}

	sess := newSession(conn, out)
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	c := &console{ctx: ctx, sess: sess, out: os.Stdout}
	go func() {
		for ev := range sess.Events() {
			fmt.Print(consoleEvent(ev, c.raw.Load()))
		}
	}()

	shell := liner.NewLiner()
	defer shell.Close()

	shell.SetCtrlCAborts(true) // ^C cancels current line
	shell.SetCompleter(completeCommand)

	if consoleHistory != "" {
		if f, err := os.Open(consoleHistory); err == nil {
			shell.ReadHistory(f)
			f.Close()
		}
	}

	fmt.Printf("Dewstat - Console\n")
	fmt.Printf("Connection: %s\n", connInfo)
	for _, line := range out.describe() {
		fmt.Println(line)
	}
	if !cfg.Protocol.SkipBoot {
		fmt.Printf("Controller boots for %s, commands are refused until it is ready\n", cfg.Protocol.BootDelay+cfg.Protocol.StatusDelay)
	}
	fmt.Println("Type \"help\" for commands, Ctrl-D to quit.")

	for !c.quit {
		input, err := shell.Prompt("dewstat> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Println()
			break // ^C or Ctrl-D
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		shell.AppendHistory(input)

		if err := c.execute(input); err != nil {
			if errors.Is(err, session.ErrBooting) {
				fmt.Printf("Controller booting, %.0fs left\n", sess.BootRemaining().Seconds())
				continue
			}
			fmt.Printf("error: %v\n", err)
		}

		select {
		case err := <-runErr:
			fmt.Printf("Session ended: %v\n", err)
			c.quit = true
		default:
		}
	}

	if consoleHistory != "" {
		if f, err := os.Create(consoleHistory); err == nil {
			shell.WriteHistory(f)
			f.Close()
		}
	}

	cancel()
	<-sess.Done()
	fmt.Print(sess.Statistics())
	return nil
}
