package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"MoverPull/internal/di"
	"MoverPull/pkg/config"
)

const usage = `usage: app [-config path] <command> [flags]

commands:
  ingest                                   store the top mover of the latest trading date
  backfill -end-date YYYY-MM-DD [-days 7]  store the top movers of a trailing window
  serve                                    run the HTTP API and the Kafka trigger consumer
`

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	cmd := "serve"
	args := flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var (
		endDate string
		days    int
	)
	switch cmd {
	case "ingest", "serve":
	case "backfill":
		fs := flag.NewFlagSet("backfill", flag.ExitOnError)
		fs.StringVar(&endDate, "end-date", "", "last trading date of the window (YYYY-MM-DD)")
		fs.IntVar(&days, "days", 7, "number of trading dates")
		_ = fs.Parse(args)
		if endDate == "" {
			fmt.Fprintln(os.Stderr, "backfill: -end-date is required")
			os.Exit(2)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	ctx := context.Background()
	switch cmd {
	case "ingest":
		err = app.RunIngest(ctx)
	case "backfill":
		err = app.RunBackfill(ctx, endDate, days)
	default:
		err = app.Serve(ctx)
	}
	if cerr := app.Close(); cerr != nil {
		log.Printf("close: %v", cerr)
	}
	if err != nil {
		log.Printf("%s failed: %v", cmd, err)
		os.Exit(1)
	}
}
