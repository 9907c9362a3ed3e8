// Command based-log inspects capture files written by based-client
// -protocol-log.
//
//	based-log view -layer wire client.blog
//	based-log view -type full client.blog
//	based-log filter -id 1193046 -o counter.blog client.blog
//	based-log export -format csv -o client.csv client.blog
//	based-log stats client.blog
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/based-protocol/based-go/cmd/based-log/commands"
)

// errUsage makes main print the command's usage and exit with status 2.
var errUsage = errors.New("usage")

type command struct {
	name    string
	summary string
	flags   func(fs *flag.FlagSet) func(path string) error
}

var commandList = []command{
	{"view", "print events in human-readable form", viewFlags},
	{"export", "convert events to JSON lines or CSV", exportFlags},
	{"filter", "copy matching events to a new capture file", filterFlags},
	{"stats", "summarize a capture file", func(*flag.FlagSet) func(string) error {
		return func(path string) error { return commands.RunStats(path, os.Stdout) }
	}},
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}
	name := os.Args[1]
	switch name {
	case "help", "-h", "-help", "--help":
		printUsage(os.Stdout)
		return
	}

	for _, cmd := range commandList {
		if cmd.name == name {
			os.Exit(cmd.exec(os.Args[2:]))
		}
	}
	fmt.Fprintf(os.Stderr, "based-log: unknown command %q\n\n", name)
	printUsage(os.Stderr)
	os.Exit(2)
}

func (c command) exec(args []string) int {
	fs := flag.NewFlagSet(c.name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "based-log %s: %s\n\nusage: based-log %s [flags] <file.blog>\n", c.name, c.summary, c.name)
		fs.PrintDefaults()
	}
	run := c.flags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	err := run(fs.Arg(0))
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "based-log %s: %v\n", c.name, err)
		fs.Usage()
		return 2
	default:
		fmt.Fprintf(os.Stderr, "based-log %s: %v\n", c.name, err)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "based-log inspects based protocol capture files.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "usage: based-log <command> [flags] <file.blog>")
	fmt.Fprintln(w)
	for _, c := range commandList {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, `Run "based-log <command> -h" for the flags of a command.`)
}

// selection registers the event selection flags shared by view and filter.
func selection(fs *flag.FlagSet, opts *commands.FilterOptions) {
	fs.StringVar(&opts.Layer, "layer", "", "only events of `layer` (transport, wire, engine)")
	fs.StringVar(&opts.Direction, "direction", "", "only events flowing `dir` (in, out)")
	fs.StringVar(&opts.Category, "category", "", "only events of `category` (message, control, state, error)")
	fs.StringVar(&opts.FrameType, "type", "", "only frames of `type` (function, full, diff, unsubscribe, get, auth, error or 0-5)")
}

func viewFlags(fs *flag.FlagSet) func(string) error {
	var opts commands.FilterOptions
	selection(fs, &opts)
	return func(path string) error {
		filter, err := commands.NewViewFilter(opts)
		if err != nil {
			return err
		}
		return commands.RunView(path, filter, os.Stdout)
	}
}

func exportFlags(fs *flag.FlagSet) func(string) error {
	format := fs.String("format", "jsonl", "output `format` (jsonl, csv)")
	output := fs.String("o", "", "write to `file` instead of stdout")
	return func(path string) error {
		return commands.RunExport(path, *format, *output)
	}
}

func filterFlags(fs *flag.FlagSet) func(string) error {
	var opts commands.FilterOptions
	selection(fs, &opts)
	fs.StringVar(&opts.Output, "o", "", "capture `file` to write (required)")
	fs.StringVar(&opts.ConnID, "conn-id", "", "only events of connection `uuid`")
	fs.StringVar(&opts.TimeStart, "time-start", "", "only events at or after `time` (RFC 3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "only events before `time` (RFC 3339)")
	fs.StringVar(&opts.ID, "id", "", "only frames carrying request or obs-id `n`")
	return func(path string) error {
		if opts.Output == "" {
			return fmt.Errorf("%w: -o is required", errUsage)
		}
		n, err := commands.RunFilter(path, opts)
		if err != nil {
			return err
		}
		fmt.Printf("%d events written to %s\n", n, opts.Output)
		return nil
	}
}
