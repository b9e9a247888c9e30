// Command jobboard signs in to the job board, inspects the session and route
// access from the terminal, and serves a guarded backend-for-frontend.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
