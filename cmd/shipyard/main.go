// Command shipyard compiles application graphs into deployment documents and
// serves the editing API, the MCP tools and the scheduled publisher.
package main

import (
	"fmt"
	"os"
)

const usage = `usage: shipyard <command> [flags]

commands:
  compile   compile a project file into a deployment document
  layout    arrange a project's nodes for one of its workflows
  lint      lint a project file
  query     run a jq expression against the compiled document
  serve     run the HTTP API (and the scheduler when enabled)
  mcp       run the MCP tool server on stdio (-api also serves HTTP)
  install   write settings.json and reload or start the server
  vacuum    compact the database (stop the server first)
  version   print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "compile":
		err = runCompile(args, os.Stdin, os.Stdout)
	case "layout":
		err = runLayout(args, os.Stdin, os.Stdout)
	case "lint":
		err = runLint(args, os.Stdin, os.Stdout)
	case "query":
		err = runQuery(args, os.Stdin, os.Stdout)
	case "serve":
		err = runServe(loadConfig())
	case "mcp":
		err = runMCP(args, loadConfig())
	case "install":
		err = runInstall(args)
	case "vacuum":
		err = runVacuum(args, loadConfig(), os.Stdout)
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		if err == errLintFailed {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
