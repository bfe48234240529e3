package main

import (
	"flag"
	"os"

	"github.com/google/gops/agent"

	"github.com/segw-project/segw/internal/config"
	"github.com/segw-project/segw/pkg/log"
)

// segw-master has no CLI subcommand contract of its own (spec §6 scopes
// the subcommand list to the gateway); it is a single long-running
// service, closer to the teacher's flat cc-backend main().
func main() {
	var flagConfigFile string
	var flagGops bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Path to the JSON bootstrap config file")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	config.Init(flagConfigFile)

	os.Exit(run())
}
