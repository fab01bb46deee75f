// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/session"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <command> [value] | send --hex <bytes>",
	Short: "Send one command and wait for its acknowledgement",
	Long: `Connect, wait for the boot sequence, send one command and print the result.

Commands:
  hello            Check the controller answers
  status           Read the sensors
  delta <0-9>      Set the temperature delta
  offset <0-9>     Set the dew point offset
  full <0-100>     Fixed power, in percent
  regul            Regulated mode
  save             Store the settings in EEPROM

Wire names (SET_DELTA, SET_MODE_FULL, ...) are accepted too.

--hex sends raw bytes instead ("30 31", "3031" or "0x3031") and waits for
the controller's ACK or NAK.

Exit codes:
  0 - Command acknowledged
  1 - Command rejected or timed out
  2 - Connection error`,
	Args: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("hex") {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.RangeArgs(1, 2)(cmd, args)
	},
	RunE: runSend,
}

var sendHex string

func init() {
	sendCmd.Flags().StringVar(&sendHex, "hex", "", "send raw bytes given in hex")
	rootCmd.AddCommand(sendCmd)
}

// parseCommandArgs resolves a command name and its optional value
func parseCommandArgs(args []string) (dewproto.Command, int, error) {
	if len(args) == 0 {
		return 0, 0, errors.New("missing command")
	}
	cmd, err := dewproto.ParseCommand(args[0])
	if err != nil {
		return 0, 0, err
	}

	if !cmd.TakesParameter() {
		if len(args) > 1 {
			return 0, 0, fmt.Errorf("%s takes no value", cmd)
		}
		return cmd, 0, nil
	}

	lo, hi := cmd.ParameterRange()
	if len(args) < 2 {
		return 0, 0, fmt.Errorf("%s needs a value (%d-%d)", cmd, lo, hi)
	}
	value, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid value %q for %s", args[1], cmd)
	}
	if value < lo || value > hi {
		return 0, 0, fmt.Errorf("%w: %s value %d outside %d-%d", dewproto.ErrInvalidParameter, cmd, value, lo, hi)
	}
	return cmd, value, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	var (
		command dewproto.Command
		value   int
		raw     []byte
		err     error
	)
	if cmd.Flags().Changed("hex") {
		raw, err = dewproto.ParseHex(sendHex)
	} else {
		command, value, err = parseCommandArgs(args)
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	out, err := openSinks(ctx)
	if err != nil {
		return err
	}
	defer out.Close()

	fmt.Printf("Connection: %s\n", connInfo)

	ctx, cancel := context.WithCancel(ctx)
	sess := newSession(conn, out, session.WithoutEvents())
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	if !cfg.Protocol.SkipBoot {
		fmt.Printf("Waiting %s for controller boot...\n", cfg.Protocol.BootDelay+cfg.Protocol.StatusDelay)
	}

	var code int
	if raw != nil {
		code = sendRaw(ctx, sess, raw)
	} else {
		code = sendCommand(ctx, sess, command, value)
	}

	cancel()
	<-runErr
	if code != 0 {
		out.Close()
		conn.Close()
		os.Exit(code)
	}
	return nil
}

// sendCommand runs one command and prints its outcome. It returns the exit
// code.
func sendCommand(ctx context.Context, sess *session.Session, command dewproto.Command, value int) int {
	if err := sess.WaitReady(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		return 2
	}

	request := dewproto.Request{Command: command, Param: value}
	fmt.Printf("Sending %s\n", request)

	ack, err := sess.Do(ctx, command, value)
	if code := ackExitCode(ack, err); code != 0 {
		return code
	}

	if command == dewproto.CmdStatus {
		if resp, err := dewproto.ParseFrame(ack.Raw); err == nil {
			fmt.Print(dewproto.FormatReading(resp.Reading))
		}
	}
	return 0
}

// sendRaw writes data as typed and prints the outcome. It returns the exit
// code.
func sendRaw(ctx context.Context, sess *session.Session, data []byte) int {
	if err := sess.WaitReady(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		return 2
	}

	fmt.Printf("Sending %s\n", dewproto.FormatHex(data))
	ack, err := sess.SendRaw(ctx, data)
	return ackExitCode(ack, err)
}

// ackExitCode prints the result of a command and maps it to an exit code
func ackExitCode(ack *session.CommandAcknowledged, err error) int {
	if ack == nil {
		fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
		return failureCode(err)
	}

	fmt.Println(describeAck(*ack))
	if !ack.Success {
		return failureCode(ack.Err)
	}
	return 0
}

func failureCode(err error) int {
	if errors.Is(err, session.ErrTransport) || errors.Is(err, session.ErrDisconnected) {
		return 2
	}
	return 1
}
