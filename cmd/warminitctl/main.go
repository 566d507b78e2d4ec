package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, dialTarget).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "warminitctl:", err)
		os.Exit(1)
	}
}
