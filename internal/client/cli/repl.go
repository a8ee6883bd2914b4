package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// execIface is the command surface the REPL needs. *Shell satisfies it;
// tests provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Create(ctx context.Context) error
	Update(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, search string) error
	Show(ctx context.Context, id string) error
	Comment(ctx context.Context, id string) error
	Sync(ctx context.Context) error
	Status(ctx context.Context) error
	Queue(ctx context.Context) error
}

const (
	helpLoggedOut = "Available commands: login, list [text], show <id>, status, queue, exit"
	helpLoggedIn  = "Available commands: (n)ew, (l)ist [text], show <id>, edit <id>, delete <id>, comment <id>, sync, status, queue, logout, exit"
)

// runREPL reads commands from r until EOF, "exit" or "quit", dispatching
// each to a. Command errors are printed and the loop goes on. The command
// prompts read from the same reader, so r must be the one the Shell uses.
//
// Prompt & Commands
//
//	help                 show available commands
//	login / logout       start or end the session
//	new | n              create an entry (interactive)
//	list | l [text]      list entries, optionally filtered by text
//	show <id>            show an entry with its comments
//	edit <id>            update an entry (interactive)
//	delete <id>          delete an entry (administrators only)
//	comment <id>         add a comment (online only)
//	sync                 replay the offline queue now
//	status               connectivity, session and queue summary
//	queue                list queued mutations
//	exit | quit          leave the program
func runREPL(ctx context.Context, a execIface, statusFn func() string, r *bufio.Reader, w io.Writer) {
	for {
		fmt.Fprintf(w, "bitacora %s> ", statusFn())
		line, err := r.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			fmt.Fprintln(w)
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			if err != nil {
				return
			}
			continue
		}
		cmd, args := parts[0], parts[1:]

		var cmdErr error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				fmt.Fprintln(w, helpLoggedIn)
			} else {
				fmt.Fprintln(w, helpLoggedOut)
			}

		case "login":
			cmdErr = a.Login(ctx)

		case "logout":
			cmdErr = a.Logout(ctx)

		case "n", "new":
			cmdErr = a.Create(ctx)

		case "l", "list":
			cmdErr = a.List(ctx, strings.Join(args, " "))

		case "show", "edit", "delete", "comment":
			if len(args) == 0 {
				fmt.Fprintf(w, "Usage: %s <id>\n", cmd)
				continue
			}
			cmdErr = withID(ctx, a, cmd, args[0])

		case "sync":
			cmdErr = a.Sync(ctx)

		case "status":
			cmdErr = a.Status(ctx)

		case "queue":
			cmdErr = a.Queue(ctx)

		case "exit", "quit":
			fmt.Fprintln(w, "¡Hasta luego!")
			return

		default:
			fmt.Fprintln(w, "Unknown command:", cmd)
		}

		if cmdErr != nil {
			fmt.Fprintf(w, "error: %v\n", cmdErr)
		}
		if err != nil {
			return
		}
	}
}

func withID(ctx context.Context, a execIface, cmd, id string) error {
	switch cmd {
	case "show":
		return a.Show(ctx, id)
	case "edit":
		return a.Update(ctx, id)
	case "delete":
		return a.Delete(ctx, id)
	default:
		return a.Comment(ctx, id)
	}
}
