// Command learnctl inspects and edits learner progress stored in a local
// SQLite tier.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
