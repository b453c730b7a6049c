// Command edgerunner inspects, benchmarks and runs image classification with models loaded
// through the edgerunner runtimes.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
