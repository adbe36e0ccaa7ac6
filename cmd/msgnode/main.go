// msgnode runs a node of the secure messaging layer.
//
// Usage:
//
//	msgnode serve -c node.toml
//	msgnode send -c client.toml lamp "hello"
//
// serve answers echo requests on every configured session. send installs
// one configured session, sends a reliable echo request and prints the
// reply.
package main

import (
	"os"

	"github.com/backkem/msglayer/cmd/msgnode/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
