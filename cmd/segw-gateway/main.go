package main

import (
	"fmt"
	"os"

	"github.com/google/gops/agent"

	"github.com/segw-project/segw/internal/config"
	"github.com/segw-project/segw/pkg/log"
)

func main() {
	subcommand, rest, err := cliInit(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsageError)
	}

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	config.Init(flagConfigFile)

	var code int
	switch subcommand {
	case "init-db":
		code = cmdInitDB()
	case "transfer-config":
		code = cmdTransferConfig()
	case "clear-config":
		code = cmdClearConfig()
	case "list-config":
		code = cmdListConfig()
	case "dump-profile":
		code = cmdDumpProfile(rest)
	case "dump-devices":
		code = cmdDumpDevices()
	case "dump-push-ops":
		code = cmdDumpPushOps()
	case "set":
		code = cmdSet(rest)
	case "run":
		code = cmdRun()
	default:
		fmt.Fprintf(os.Stderr, "usage: segw-gateway [--config file] [--gops] <subcommand> [args...]\n"+
			"subcommands: init-db, transfer-config, clear-config, list-config, "+
			"dump-profile <profile-id>, dump-devices, dump-push-ops, set <obis-path> <value>, run\n")
		code = exitUsageError
	}
	os.Exit(code)
}
