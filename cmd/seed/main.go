package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"code-redemption-platform/internal/config"
	"code-redemption-platform/internal/domain/ports/repository"
	pg "code-redemption-platform/internal/infra/db/postgres"
	"code-redemption-platform/internal/usecase"
)

// Seeds a small demo PIN batch and serial range into an empty database.
// No-op when codes already exist.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	codeRepo := pg.NewCodeRepo(pool)
	existing, err := codeRepo.CountWhere(ctx, repository.NoTX, repository.ListFilter{})
	if err != nil {
		log.Fatalf("count codes: %v", err)
	}
	if existing > 0 {
		fmt.Printf("%d codes already present. No changes.\n", existing)
		return
	}

	genUC := usecase.NewGeneratorUseCase(codeRepo)

	pins, err := genUC.IssuePins(ctx, 20, cfg.Codes.PinPrefix, cfg.Codes.PinLength, "seed", nil)
	if err != nil {
		log.Fatalf("issue pins: %v", err)
	}
	fmt.Printf("issued %d demo PINs (batch %s):\n", len(pins.Values), pins.BatchID)
	for _, v := range pins.Values {
		fmt.Printf("  - %s\n", v)
	}

	serials, err := genUC.IssueSerials(ctx, 50, cfg.Codes.SerialWidth, nil, "seed")
	if err != nil {
		log.Fatalf("issue serials: %v", err)
	}
	fmt.Printf("issued serial range [%0*d..%0*d) (batch %s, created=%d skipped=%d)\n",
		cfg.Codes.SerialWidth, serials.Start, cfg.Codes.SerialWidth, serials.End,
		serials.BatchID, serials.Created, serials.Skipped)
}
