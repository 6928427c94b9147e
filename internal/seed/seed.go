// Package seed populates development databases with official channels
// and fake users.
package seed

import (
	_ "embed"
	"errors"
	"fmt"
	"log"
	"strings"

	"shieldchat/internal/models"

	"github.com/brianvoe/gofakeit/v7"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

//go:embed official_channels.yml
var officialChannelsYAML []byte

type channelFixture struct {
	Name        string `yaml:"name"`
	Topic       string `yaml:"topic"`
	Description string `yaml:"description"`
}

type channelFixtureFile struct {
	Channels []channelFixture `yaml:"channels"`
}

func loadChannelFixtures() ([]channelFixture, error) {
	var file channelFixtureFile
	if err := yaml.Unmarshal(officialChannelsYAML, &file); err != nil {
		return nil, fmt.Errorf("parse official channel fixtures: %w", err)
	}
	return file.Channels, nil
}

// OfficialChannels upserts the built-in channels from the embedded
// fixture file. Existing channels keep their user counts and owners;
// topic and description follow the fixtures.
func OfficialChannels(db *gorm.DB) error {
	fixtures, err := loadChannelFixtures()
	if err != nil {
		return err
	}

	for _, f := range fixtures {
		nameLower := strings.ToLower(f.Name)

		var existing models.Channel
		findErr := db.Where("name_lower = ?", nameLower).First(&existing).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			channel := models.Channel{
				Name:        f.Name,
				NameLower:   nameLower,
				Official:    true,
				Topic:       strings.TrimSpace(f.Topic),
				Description: strings.TrimSpace(f.Description),
			}
			if err := db.Create(&channel).Error; err != nil {
				return fmt.Errorf("create official channel %q: %w", f.Name, err)
			}
			log.Printf("seeded official channel %q (id %d)", f.Name, channel.ID)
		case findErr != nil:
			return findErr
		default:
			updates := map[string]any{
				"official":    true,
				"topic":       strings.TrimSpace(f.Topic),
				"description": strings.TrimSpace(f.Description),
			}
			if err := db.Model(&existing).Updates(updates).Error; err != nil {
				return fmt.Errorf("update official channel %q: %w", f.Name, err)
			}
		}
	}

	return nil
}

// Users creates count fake users with a shared development password.
// Usernames are unique; collisions are retried a few times and then
// skipped.
func Users(db *gorm.DB, count int, password string) ([]models.User, error) {
	if password == "" {
		password = "letmein-dev"
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash seed password: %w", err)
	}

	faker := gofakeit.New(0)
	users := make([]models.User, 0, count)
	for i := 0; i < count; i++ {
		var created *models.User
		for attempt := 0; attempt < 5; attempt++ {
			username := faker.Gamertag()
			if len(username) > 32 {
				username = username[:32]
			}
			user := models.User{
				Username: username,
				Email:    faker.Email(),
				Password: string(hashed),
			}
			if err := db.Create(&user).Error; err != nil {
				continue // username collision, try another
			}
			created = &user
			break
		}
		if created != nil {
			users = append(users, *created)
		}
	}

	log.Printf("seeded %d fake users", len(users))
	return users, nil
}
