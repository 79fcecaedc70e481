// Command exchangectl is the operator CLI for the exchange service: it
// inspects pending exchanges and matches, registers sessions, and watches
// match notifications.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
