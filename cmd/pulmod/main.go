package main

import (
	"context"
	"log"
	"os"

	"pulmo/internal/config"
	"pulmo/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load(os.Getenv("PULMO_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		log.Fatalf("run daemon: %v", err)
	}
}
