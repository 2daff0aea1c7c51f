// File: cmd/loupe/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/xkilldash9x/loupe/cmd"
	"github.com/xkilldash9x/loupe/internal/observability"
)

const panicLogFile = "panic.log"

const banner = `
  .-""-.      loupe %s
 /  __  \     fetch, lay out and paint pages
|  /  \  |    type a command, "help" or "exit"
 \ \__/ /
  '-..-'\\
         \\
`

// Function variables replaced in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	// Match GOMAXPROCS to the container CPU quota before layout fans out.
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not adjust GOMAXPROCS:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		if err := cmd.Execute(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				osExit(0)
				return
			}
			osExit(1)
		}
		return
	}

	if err := interactive(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error reading from stdin:", err)
		osExit(1)
	}
}

// interactive reads commands line by line until EOF, "exit" or "quit".
func interactive(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, banner, cmd.Version)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "loupe > ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		executeLine(ctx, line, out)
	}
	fmt.Fprintln(out, "bye")
	return scanner.Err()
}

// executeLine runs one command on a fresh command tree so flags never
// carry over between lines. A panicking command does not end the session.
func executeLine(ctx context.Context, line string, out io.Writer) {
	root := cmd.NewRootCommand()
	root.SetArgs(strings.Fields(line))
	root.SetOut(out)
	root.SetErr(out)
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(out, "Error: command panicked: %v\n", r)
		}
	}()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(out, "Error:", err)
	}
}

// handlePanic flushes logs and records the stack in panic.log.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	message := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(message), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "%s\n", message)
		osExit(2)
		return
	}
	fmt.Fprintf(os.Stderr, "loupe crashed; details written to %s\n", panicLogFile)
	osExit(2)
}
