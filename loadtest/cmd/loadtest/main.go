// Package main is the entry point for the Huddle load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - saturate: connection saturation test
//   - chat:     group and direct message throughput test
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Connection saturation test: opens N idle authenticated connections")
	fmt.Println("  chat        Message throughput test: users post to the group and to each other")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
