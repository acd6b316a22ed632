package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/omochice/roster-chat/internal/errors"
)

const consoleHelp = `commands:
  who     accounts currently online
  help    this text
  quit    log out and exit
`

// RunConsole prints roster changes of s to w and reads user commands from
// r, one per line. It returns nil on quit or end of input, the session's
// error when the session ends on its own and ctx.Err() when ctx ends first.
// The caller still owns s and must Close it.
func RunConsole(ctx context.Context, r io.Reader, w io.Writer, s *Session) error {
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
		readErr <- scanner.Err()
	}()

	fmt.Fprintf(w, "logged in as %s, type help for commands\n", s.Username())
	events := s.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			printEvent(w, ev)
		case <-s.Done():
			// Flush whatever is still buffered before leaving.
			for ev := range s.Events() {
				printEvent(w, ev)
			}
			return s.Err()
		case line := <-lines:
			switch strings.TrimSpace(line) {
			case "":
			case "quit", "exit":
				return nil
			case "who":
				printRoster(w, s.Roster())
			case "help":
				fmt.Fprint(w, consoleHelp)
			default:
				fmt.Fprintf(w, "unknown command %q, type help\n", strings.TrimSpace(line))
			}
		}
	}
}

func printEvent(w io.Writer, ev Event) {
	switch {
	case ev.Kind == EventClosed && ev.Err != nil:
		fmt.Fprintf(w, "*** disconnected: %s ***\n", apperrors.GetMessage(ev.Err))
	case ev.Kind == EventClosed:
		fmt.Fprintln(w, "*** disconnected ***")
	case ev.Removed != "":
		fmt.Fprintf(w, "*** %s left ***\n", ev.Removed)
	default:
		printRoster(w, ev.Roster)
	}
}

func printRoster(w io.Writer, names []string) {
	if len(names) == 0 {
		fmt.Fprintln(w, "nobody else online")
		return
	}
	fmt.Fprintf(w, "%d online: %s\n", len(names), strings.Join(names, ", "))
}
