// Command harnessd is a demonstration CLI for the durable agent harness
// runtime: create, start, pause, resume, stop, and gate harnesses running
// against an in-memory engine and store by default, or Temporal/Mongo/Redis
// when configured.
//
// Grounded on cmd/demo/main.go's single-agent wiring, restructured as a
// cobra CLI in dotcommander-vybe's style rather than a one-shot program.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/kestrel-systems/harness/internal/cli"
)

var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	if err := cli.Execute(version); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
