// Command devtoken mints an access token for local testing and can seed
// one-time credits for the same user.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/techpack/techpack-api/internal/config"
	"github.com/techpack/techpack-api/internal/domain/credit"
	"github.com/techpack/techpack-api/internal/pkg/database"
	"github.com/techpack/techpack-api/internal/pkg/jwt"
)

func main() {
	userFlag := flag.String("user", "", "user id (random when empty)")
	email := flag.String("email", "dev@techpack.local", "email claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	grant := flag.Int("grant", 0, "one-time credits to grant the user")
	flag.Parse()

	cfg := config.Load()
	if cfg.IsProduction() {
		log.Fatal("devtoken refuses to run with ENV=production")
	}

	userID := uuid.New()
	if *userFlag != "" {
		parsed, err := uuid.Parse(*userFlag)
		if err != nil {
			log.Fatalf("Invalid user id: %v", err)
		}
		userID = parsed
	}

	token, err := jwt.NewService(cfg.JWTSecret, *ttl).GenerateAccessToken(userID, *email, "authenticated")
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	if *grant > 0 {
		db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1})
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.ClosePostgres(db)

		ledger := credit.NewLedger(credit.NewRepository(db), nil, nil)
		rec := &credit.Record{UserID: userID, Credits: *grant, PlanType: credit.PlanOneTime, Membership: "add_on"}
		if err := ledger.Grant(context.Background(), rec); err != nil {
			log.Fatalf("Failed to grant credits: %v", err)
		}
		fmt.Printf("granted: %d credits (record %s)\n", *grant, rec.ID)
	}

	fmt.Printf("user:  %s\n", userID)
	fmt.Printf("token: %s\n", token)
}
