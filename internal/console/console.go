// Package console implements the Runtime Console: a background reader on
// standard input accepting single-keystroke commands to restart, quit, or
// print help.
package console

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
)

// Commands are the actions the console can trigger. The caller supplies
// implementations; console.Run only parses input.
type Commands struct {
	Restart func()
	Quit    func()
	Help    func()
}

// Run reads newline-terminated single-character commands from r until ctx
// is cancelled or r returns EOF. Unknown input is ignored. Intended to be
// run in its own goroutine from main.
func Run(ctx context.Context, r io.Reader, logger *slog.Logger, cmds Commands) {
	scanner := bufio.NewScanner(r)
	lines := make(chan string)

	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			dispatch(strings.TrimSpace(line), logger, cmds)
		}
	}
}

func dispatch(line string, logger *slog.Logger, cmds Commands) {
	if line == "" {
		return
	}
	switch strings.ToUpper(line)[:1] {
	case "R":
		if cmds.Restart != nil {
			cmds.Restart()
		}
	case "Q":
		if cmds.Quit != nil {
			cmds.Quit()
		}
	case "H":
		if cmds.Help != nil {
			cmds.Help()
		}
	default:
		logger.Debug("console: ignoring unknown command", "input", line)
	}
}
