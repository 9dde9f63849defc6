package main

import (
	"fmt"
	"io"
	"os"
)

const usageText = `carepath: patient-journey queries over a Condition/Encounter graph.

Usage:
  carepath <command> [flags]

Commands:
  serve      run the MCP server on stdio (with the report scheduler)
  init       write ~/.carepath/settings.json and reload a running server
  import     validate a graph document and load it into the database
  journeys   print the journeys that follow a first diagnosis
  diagram    draw those journeys as ascii, mermaid, svg or png
  version    print the version

Run "carepath <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = runServe(args)
	case "init":
		err = runInit(args, os.Stdout)
	case "import":
		err = runImport(args, os.Stdout)
	case "journeys":
		err = runJourneys(args, os.Stdout)
	case "diagram":
		err = runDiagram(args, os.Stdout)
	case "version", "-v", "--version":
		printVersion(os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, usageText)
}
