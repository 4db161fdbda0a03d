// The idc_gen tool prints IDC commands which apply recovered symbol names.
//
// Usage:
//
//    idc_gen [-v] FILE
//
// FILE holds a JSON list of modules, each with a list of symbols:
//
//    [{"symbols": [{"name": "foo", "rva": 16}]}]
//
// One set_name command is printed per symbol, ready to be pasted into the IDA
// scripting console:
//
//    set_name(16 + get_imagebase(), "foo", 1);
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/kr/pretty"
	"github.com/mewrev/idasym"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run runs the tool with the given command line arguments and returns its exit
// status.
func run(args []string, stdout, stderr io.Writer) int {
	logger := log.New(stderr, "idc_gen: ", 0)
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	var verbose bool
	fs.BoolVar(&verbose, "v", false, "dump parsed modules to standard error")
	usage := func() {
		fmt.Fprintf(stdout, "Usage : %s file\n", args[0])
	}
	fs.Usage = usage
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		usage()
		return 1
	}
	mods, err := idasym.ParseFile(fs.Arg(0))
	if err != nil {
		logger.Printf("%+v", err)
		return 1
	}
	if verbose {
		pretty.Fprintf(stderr, "%# v\n", mods)
	}
	if _, err := idasym.WriteIDC(stdout, mods); err != nil {
		logger.Printf("%+v", err)
		return 1
	}
	return 0
}
