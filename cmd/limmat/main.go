// Command limmat is a local continuous-integration engine: it tests every
// commit in a revision range as the range changes, showing live results in
// a terminal dashboard and, optionally, a web UI.
package main

import (
	"fmt"
	"os"

	"limmat/cmd/limmat/cmd"
)

func main() {
	err := cmd.Execute()
	if err == nil {
		return
	}
	if code, ok := cmd.ExitCode(err); ok {
		os.Exit(code)
	}
	fmt.Fprintln(os.Stderr, "limmat:", err)
	os.Exit(1)
}
