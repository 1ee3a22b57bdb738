// quarry-export dumps every document in the document store as a JSON
// array on stdout, for backups and for seeding other environments.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/quarrysearch/quarry/internal/store"
	"github.com/quarrysearch/quarry/pkg/config"
	"github.com/quarrysearch/quarry/pkg/logger"
	pkgpostgres "github.com/quarrysearch/quarry/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	timeout := flag.Duration("timeout", 30*time.Second, "export timeout")
	pretty := flag.Bool("pretty", false, "indent the JSON output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := pkgpostgres.New(cfg.Postgres)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to postgres: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	docStore, err := store.NewPostgres(ctx, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open document store: %v\n", err)
		os.Exit(1)
	}

	docs, err := docStore.LoadAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load documents: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(docs); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode documents: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "exported %d documents\n", len(docs))
}
