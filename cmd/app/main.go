package main

import (
	"flag"
	"log"
	"os"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/di"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s storage=%s assets=%v", cfg.Environment, cfg.Storage.Backend, cfg.Feed.Assets)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
