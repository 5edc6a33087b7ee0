package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"CatalystPull/internal/di"
	"CatalystPull/pkg/config"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "catalystpull: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/config.yaml", "config file path (CONFIG_PATH overrides)")
	printConfig := flag.Bool("print-config", false, "print the effective config and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	path := *configPath
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if *printConfig {
		return yaml.NewEncoder(os.Stdout).Encode(cfg.Redacted())
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	app.SetCleanup(cleanup)
	return app.Run()
}
