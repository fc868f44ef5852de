package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/rendis/shipyard/internal/compiler"
	"github.com/rendis/shipyard/internal/expressions"
	"github.com/rendis/shipyard/internal/layout"
	"github.com/rendis/shipyard/internal/validation"
	"github.com/rendis/shipyard/pkg/schema"
)

// errLintFailed makes lint exit non-zero without printing anything more.
var errLintFailed = errors.New("lint failed")

func runCompile(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	file := fs.String("f", "-", "project file (JSON or YAML), - for stdin")
	format := fs.String("format", "json", "output format: json or yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f, err := compiler.ParseFormat(*format)
	if err != nil {
		return err
	}
	p, err := readProject(*file, stdin)
	if err != nil {
		return err
	}
	out, err := compiler.Marshal(compiler.Compile(p.Meta, p.Nodes), f)
	if err != nil {
		return err
	}
	_, err = stdout.Write(out)
	if err == nil && f == compiler.FormatJSON {
		_, err = fmt.Fprintln(stdout)
	}
	return err
}

func runLayout(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("layout", flag.ContinueOnError)
	file := fs.String("f", "-", "project file (JSON or YAML), - for stdin")
	wfID := fs.String("workflow", "", "workflow id (optional when the project has exactly one)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := readProject(*file, stdin)
	if err != nil {
		return err
	}
	wf, err := p.workflow(*wfID)
	if err != nil {
		return err
	}
	return writeIndented(stdout, layout.Apply(wf, p.Nodes))
}

// runLint prints the lint result and fails when it holds errors, or warnings
// too under -strict.
func runLint(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("lint", flag.ContinueOnError)
	file := fs.String("f", "-", "project file (JSON or YAML), - for stdin")
	wfID := fs.String("workflow", "", "also check coverage of this workflow")
	strict := fs.Bool("strict", false, "treat warnings as failures")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := readProject(*file, stdin)
	if err != nil {
		return err
	}
	linter, err := validation.NewLinter(loadConfig().Policies...)
	if err != nil {
		return err
	}

	doc := compiler.Compile(p.Meta, p.Nodes)
	result := linter.Lint(context.Background(), doc)
	if *wfID != "" {
		wf, err := p.workflow(*wfID)
		if err != nil {
			return err
		}
		result.Merge(linter.LintWorkflow(doc, &wf))
	}

	if err := writeIndented(stdout, result); err != nil {
		return err
	}
	if !result.Valid() || (*strict && len(result.Warnings) > 0) {
		return errLintFailed
	}
	return nil
}

func runQuery(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	file := fs.String("f", "-", "project file (JSON or YAML), - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return schema.NewError(schema.ErrCodeValidation, "query takes exactly one jq expression")
	}

	p, err := readProject(*file, stdin)
	if err != nil {
		return err
	}
	results, err := expressions.NewGoJQEngine().Query(context.Background(), fs.Arg(0), compiler.Compile(p.Meta, p.Nodes))
	if err != nil {
		return err
	}
	for _, r := range results {
		if err := writeIndented(stdout, r); err != nil {
			return err
		}
	}
	return nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runVacuum compacts the database. Run it while the server is stopped.
func runVacuum(args []string, cfg Config, stdout io.Writer) error {
	fs := flag.NewFlagSet("vacuum", flag.ContinueOnError)
	path := fs.String("db", cfg.DBPath, "database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStore(ctx, *path)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Vacuum(ctx); err != nil {
		return fmt.Errorf("vacuum %s: %w", *path, err)
	}
	_, err = fmt.Fprintf(stdout, "vacuumed %s\n", *path)
	return err
}
