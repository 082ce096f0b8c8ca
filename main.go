// Package main is the entry point for the ttlbridge OSC to TTL bridge.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/ttlbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
