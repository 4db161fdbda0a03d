// The ida_extract tool dumps the function table of a module as image relative
// function ranges.
//
// Usage:
//
//    ida_extract [-o idaoutput.txt] [-v] (-map FILE.MAP | -gobin FILE)
//
// The document is printed to standard output with indentation and written to
// the output file on a single line:
//
//    {"symbols": [{"name": "main.main", "start": 4096, "end": 4224}]}
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/kr/pretty"
	"github.com/mewrev/idasym"
	"github.com/pkg/errors"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run runs the tool with the given command line arguments and returns its exit
// status.
func run(args []string, stdout, stderr io.Writer) int {
	logger := log.New(stderr, "ida_extract: ", 0)
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		// mapPath specifies the linker map file to read functions from.
		mapPath string
		// goPath specifies the Go executable to read functions from.
		goPath string
		// output specifies the output file.
		output string
		// verbose dumps the session function table.
		verbose bool
	)
	fs.StringVar(&mapPath, "map", "", "linker MAP file to read functions from")
	fs.StringVar(&goPath, "gobin", "", "Go executable to read functions from")
	fs.StringVar(&output, "o", idasym.DefaultOutputName, "output file")
	fs.BoolVar(&verbose, "v", false, "dump extracted functions to standard error")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if (mapPath == "") == (goPath == "") || fs.NArg() != 0 {
		fmt.Fprintln(stderr, "exactly one of -map or -gobin must be specified")
		fs.Usage()
		return 1
	}
	s, err := openSession(mapPath, goPath)
	if err != nil {
		logger.Printf("%+v", err)
		return 1
	}
	if err := extract(s, output, verbose, stdout, stderr); err != nil {
		logger.Printf("%+v", err)
		return 1
	}
	return 0
}

// openSession returns the session for the given input file.
func openSession(mapPath, goPath string) (idasym.Session, error) {
	if mapPath != "" {
		return idasym.OpenMapSession(mapPath)
	}
	return idasym.OpenGoSession(goPath)
}

// extract extracts the functions of s, prints them to stdout and writes them to
// the output file.
func extract(s idasym.Session, output string, verbose bool, stdout, stderr io.Writer) error {
	fns, err := idasym.Extract(s)
	if err != nil {
		return errors.WithStack(err)
	}
	if verbose {
		pretty.Fprintf(stderr, "%# v\n", fns)
	}
	if err := fns.WriteIndent(stdout); err != nil {
		return errors.WithStack(err)
	}
	if err := fns.WriteFile(output); err != nil {
		return errors.WithStack(err)
	}
	fmt.Fprintf(stdout, "JSON dumped to: %s\n", output)
	return nil
}
