package main

import "flag"

// Exit codes (spec §6).
const (
	exitOK           = 0
	exitConfigError  = 1
	exitStorageError = 2
	exitNetworkError = 3
	exitUsageError   = 4
)

var (
	flagConfigFile string
	flagGops       bool
)

// cliInit declares the flags shared by every subcommand, matching the
// teacher's cliInit() shape (package-level vars + flag.*Var calls)
// generalised to a flag.FlagSet per subcommand so positional arguments
// (dump-profile <profile-id>, set <obis-path> <value>) can follow it.
func cliInit(args []string) (subcommand string, rest []string, err error) {
	fs := flag.NewFlagSet("segw-gateway", flag.ContinueOnError)
	fs.StringVar(&flagConfigFile, "config", "./config.json", "Path to the JSON bootstrap config file")
	fs.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	// flag.FlagSet.Parse stops at the first non-flag argument: global
	// flags must precede the subcommand, e.g. "--config x.json run".
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	remaining := fs.Args()
	if len(remaining) == 0 {
		return "", nil, nil
	}
	return remaining[0], remaining[1:], nil
}
