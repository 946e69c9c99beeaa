package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/unclebandit/wacampaign-backend/internal/config"
	"github.com/unclebandit/wacampaign-backend/internal/db"
)

func main() {
	cfg, err := config.Load(context.Background())
	if err != nil {
		log.Fatal(err)
	}

	database, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close()

	seedFiles := []string{
		"migrations/schema.sql",
		"seed/contacts.sql",
		"seed/campaigns.sql",
	}

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("failed to read %s: %v", file, err)
		}

		if _, err := database.Exec(string(content)); err != nil {
			log.Fatalf("failed to execute %s: %v", file, err)
		}
		fmt.Printf("Seeded: %s\n", file)
	}

	fmt.Println("Database seeding completed successfully!")
}
