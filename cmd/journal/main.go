// Command journal drives a local journal node: it manages keypairs, funds
// wallets and creates, updates and deletes journal entries.
package main

import (
	"fmt"
	"os"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
