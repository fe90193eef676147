// migrate applies DB schema migrations from the SQL files embedded in the
// server binary; run with go run ./cmd/migrate [-direction up|down].
package main

import (
	"flag"
	"fmt"
	"os"

	"reel/cmd/internal/app"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "REEL_DATABASE_URL is not set")
		os.Exit(1)
	}

	switch *direction {
	case "up":
		err = app.MigrateUp(cfg.DatabaseURL)
	case "down":
		err = app.MigrateDown(cfg.DatabaseURL)
	default:
		fmt.Fprintf(os.Stderr, "direction must be up or down, got %q\n", *direction)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
