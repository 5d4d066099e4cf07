// Command janus is the reference CLI for the Janus datagram IPC
// protocol: a server (listen), a one-shot client (send), and a stats
// viewer on top of the server_stats built-in request.
package main

import (
	"os"

	"github.com/janusipc/janus/cmd/janus/commands"
)

func main() {
	err := commands.Execute()
	if err == nil {
		return
	}
	commands.PrintErr("error: %v", err)
	if commands.IsRuntimeError(err) {
		os.Exit(1)
	}
	os.Exit(2)
}
