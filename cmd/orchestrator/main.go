package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/stablemesh/cctp-middleware/pkg/app/orchestrator"
	"github.com/stablemesh/cctp-middleware/pkg/config"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	srv := orchestrator.NewServer(cfg)
	if err := srv.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Orchestrator exited with error: %v\n", err)
		os.Exit(1)
	}
}
