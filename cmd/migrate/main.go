// migrate applies or rolls back the embedded schema: go run ./cmd/migrate -direction up
package main

import (
	"flag"
	"fmt"
	"os"

	"phone-verification-server/internal/config"
	"phone-verification-server/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "up, or down for a single step")
	showVersion := flag.Bool("version", false, "print the applied version and exit")
	force := flag.Int("force", -1, "mark this version as applied and clear the dirty flag")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fail("config", err)
	}

	switch {
	case *showVersion:
		v, dirty, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			fail("migrate", err)
		}
		fmt.Printf("version=%d dirty=%v\n", v, dirty)
	case *force >= 0:
		if err := migrate.Force(cfg.DatabaseURL, *force); err != nil {
			fail("migrate", err)
		}
		fmt.Printf("forced version %d\n", *force)
	default:
		if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
			fail("migrate", err)
		}
	}
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
