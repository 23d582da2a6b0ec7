package main

// flags.go parses the command line for dplane-inspect using pflag,
// matching the rest of this module's CLI tooling (see
// cmd/dplane-snapshot-store).

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type options struct {
	targets          []string
	json             bool
	watch            bool
	interval         time.Duration
	heapProfile      string
	goroutineProfile string
	version          bool
}

func parseFlags(args []string) (*options, error) {
	fs := pflag.NewFlagSet("dplane-inspect", pflag.ContinueOnError)

	targetsCSV := fs.StringP("targets", "t", "http://127.0.0.1:6060", "comma-separated list of target base URLs to poll")
	json := fs.Bool("json", false, "emit the raw snapshot as JSON instead of a pretty summary")
	watch := fs.BoolP("watch", "w", false, "poll repeatedly instead of a single fetch")
	interval := fs.Duration("interval", 2*time.Second, "poll interval in watch mode")
	heapProfile := fs.String("heap-profile", "", "download /debug/pprof/heap from the first target to this path and exit")
	goroutineProfile := fs.String("goroutine-profile", "", "download /debug/pprof/goroutine from the first target to this path and exit")
	version := fs.Bool("version", false, "print the build version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	targets := strings.Split(*targetsCSV, ",")
	for i := range targets {
		targets[i] = strings.TrimSuffix(strings.TrimSpace(targets[i]), "/")
	}

	return &options{
		targets:          targets,
		json:             *json,
		watch:            *watch,
		interval:         *interval,
		heapProfile:      *heapProfile,
		goroutineProfile: *goroutineProfile,
		version:          *version,
	}, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "dplane-inspect:", err)
	os.Exit(1)
}
