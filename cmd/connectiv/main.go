// Command connectiv is the interactive client for the Connectiv data portal:
// sign-in (including the forced password reset), session inspection, calls to
// the protected hello endpoint, and post-deploy verification.
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
