// Command disputectl is the operator CLI for the dispute engine. It talks to
// the Postgres store directly, so it works while the API is down.
package main

import (
	"fmt"
	"os"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
