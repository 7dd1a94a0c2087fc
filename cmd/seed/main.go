// seed inserts development vouchers for local testing: go run ./cmd/seed -n 5
// Idempotent: skips inserts if vouchers for the dev seed tx hash already exist.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"phone-verification-server/internal/config"
	"phone-verification-server/internal/db"
	voucherdomain "phone-verification-server/internal/voucher/domain"
	voucherrepo "phone-verification-server/internal/voucher/repository"
)

// devSeedTxHash marks seeded vouchers. It is not a real transaction.
const devSeedTxHash = "0x00000000000000000000000000000000000000000000000000000000dec0de01"

func main() {
	n := flag.Int("n", 5, "Number of vouchers to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("seed: refusing to run with APP_ENV=production")
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}
	if *n <= 0 {
		log.Fatal("seed: -n must be positive")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	repo := voucherrepo.NewPostgresRepository(conn)
	exists, err := repo.ExistsForTxHash(ctx, devSeedTxHash)
	if err != nil {
		log.Fatalf("check existing vouchers: %v", err)
	}
	if exists {
		log.Println("Seed already applied (dev vouchers exist). Skipping.")
		return
	}

	now := time.Now().UTC()
	batch := make([]*voucherdomain.Voucher, *n)
	for i := range batch {
		id, err := randomID()
		if err != nil {
			log.Fatalf("voucher id: %v", err)
		}
		batch[i] = &voucherdomain.Voucher{ID: id, TxHash: devSeedTxHash, CreatedAt: now}
	}
	if err := repo.CreateBatch(ctx, batch); err != nil {
		log.Fatalf("create vouchers: %v", err)
	}

	log.Println("Seed completed successfully.")
	for _, v := range batch {
		fmt.Printf("Voucher: %s\n", v.ID)
	}
}

func randomID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
