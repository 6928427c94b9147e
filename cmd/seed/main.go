// Command seed populates the database with official channels and fake
// users for development.
package main

import (
	"flag"
	"log"

	"shieldchat/internal/config"
	"shieldchat/internal/database"
	"shieldchat/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 50, "Number of fake users to create")
	password := flag.String("password", "password123", "Password for every seeded user")
	flag.Parse()

	log.Println("Database Seeder")
	log.Println("===============")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := seed.OfficialChannels(db); err != nil {
		log.Fatalf("Official channel seeding failed: %v", err)
	}
	log.Println("Official channels seeded")

	users, err := seed.Users(db, *numUsers, *password)
	if err != nil {
		log.Fatalf("User seeding failed: %v", err)
	}
	log.Printf("Seeded %d users (password %q)", len(users), *password)
}
