package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	apperrors "github.com/omochice/roster-chat/internal/errors"
)

const defaultHistory = 20

const consoleHelp = `commands:
  list, who         connections with address and account
  roster            registered accounts in join order
  kick <account>    disconnect a client (it receives close)
  history [n]       last n presence journal entries
  help              this text
  quit              stop the server
`

// ErrConsoleDetached is returned by RunConsole when its input ends without
// a quit command. The server keeps running.
var ErrConsoleDetached = errors.New("console input closed")

// RunConsole reads operator commands from r, one per line, and writes the
// answers to w. It returns nil on quit, ErrConsoleDetached at end of input,
// the read error if reading fails and ctx.Err() when ctx ends first.
func RunConsole(ctx context.Context, r io.Reader, w io.Writer, srv *Server) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
			return
		}
		readErr <- ErrConsoleDetached
	}()

	fmt.Fprintf(w, "operator %s, type help for commands\n", operatorName(srv.Operator()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if fields[0] == "quit" || fields[0] == "exit" {
				return nil
			}
			runCommand(ctx, w, srv, fields[0], fields[1:])
		}
	}
}

func runCommand(ctx context.Context, w io.Writer, srv *Server, cmd string, args []string) {
	switch cmd {
	case "list", "who":
		conns := srv.Connections()
		if len(conns) == 0 {
			fmt.Fprintln(w, "no connections")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ADDRESS\tACCOUNT\tSTATE")
		for _, c := range conns {
			account, ok := c.Account()
			if !ok {
				account = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", c.RemoteAddr(), account, c.State())
		}
		tw.Flush()

	case "roster":
		roster := srv.Roster()
		fmt.Fprintf(w, "%d online: %s\n", len(roster), strings.Join(roster, ", "))

	case "kick":
		if len(args) != 1 {
			fmt.Fprintln(w, "usage: kick <account>")
			return
		}
		if err := srv.Disconnect(args[0]); err != nil {
			fmt.Fprintf(w, "kick %s: %s\n", args[0], apperrors.GetMessage(err))
			return
		}
		fmt.Fprintf(w, "%s disconnected\n", args[0])

	case "history":
		limit := defaultHistory
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				fmt.Fprintln(w, "usage: history [n]")
				return
			}
			limit = n
		}
		journal := srv.Journal()
		if journal == nil {
			fmt.Fprintln(w, "journal disabled")
			return
		}
		events, err := journal.Recent(ctx, limit)
		if err != nil {
			fmt.Fprintf(w, "history: %v\n", err)
			return
		}
		for _, ev := range events {
			fmt.Fprintf(w, "%s  %-15s %-12s %s %s\n",
				ev.At.Local().Format(time.DateTime), ev.Kind, ev.Account, ev.RemoteAddr, ev.Detail)
		}

	case "help":
		fmt.Fprint(w, consoleHelp)

	default:
		fmt.Fprintf(w, "unknown command %q, type help\n", cmd)
	}
}

func operatorName(op *Operator) string {
	if op.Anonymous() {
		return "(anonymous)"
	}
	return op.Account
}
