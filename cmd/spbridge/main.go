package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"spbridge/internal/cli"
)

func usage() {
	fmt.Println("Usage: spbridge <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  check [--json] <plugin-dir>          Validate a plugin manifest and its scripts")
	fmt.Println("  run <plugin-dir> [params...]         Load a plugin and call its entry export")
	fmt.Println("  call <plugin-dir> <fn> [args...]     Call a script function through a bridge")
	fmt.Println("  serve [plugin-dir]                   Load all plugins and serve /metrics")
	fmt.Println("  version                              Print the version")
}

func main() {
	godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "check":
		cli.HandleCheck(os.Args[2:])
	case "run":
		cli.HandleRun(os.Args[2:])
	case "call":
		cli.HandleCall(os.Args[2:])
	case "serve":
		cli.HandleServe(os.Args[2:])
	case "version":
		cli.HandleVersion()
	default:
		fmt.Printf("Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}
