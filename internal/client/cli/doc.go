// Package cli is the bitacora command line.
//
// Run builds a cobra command tree over one app session. Without a
// subcommand it starts the interactive REPL, which polls connectivity in the
// background and replays the offline queue whenever the connection returns.
// The one-shot commands (create, update, delete, list, show, comment, sync,
// status, queue, login, logout) probe connectivity once before running, so
// queued work is replayed before the command itself executes.
//
// Both front ends go through Shell, which turns user input into calls on the
// entry and auth services and renders their results.
package cli
