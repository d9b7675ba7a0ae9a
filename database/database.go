package database

import (
	"fmt"
	"log"

	config "github.com/bookhooks/bookhooks-backend/configs"
	"github.com/bookhooks/bookhooks-backend/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func ConnectDB() {
	var err error
	dsn := config.Config("DATABASE_URL")

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt:                              false,
		SkipDefaultTransaction:                   true,
		DisableForeignKeyConstraintWhenMigrating: true,
		DisableNestedTransaction:                 true,
		TranslateError:                           true,
	})
	if err != nil {
		log.Fatalf("🔥 Failed to connect to database: %v", err)
	}

	fmt.Println("✅ Database connected successfully")
}

func Migrate() {
	err := DB.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
	)
	if err != nil {
		log.Fatalf("🔥 Failed to migrate database: %v", err)
	}
	fmt.Println("✅ Database migration successful")
}

// SeedDemoUsers creates two fixture accounts so the chat API is exercisable
// on a fresh database. Gated behind SEED_DEMO_USERS=true; production leaves
// user provisioning to the registration endpoint.
func SeedDemoUsers() {
	if config.Config("SEED_DEMO_USERS") != "true" {
		return
	}

	demo := []struct {
		name  string
		email string
	}{
		{"Avery Reader", "avery@bookhooks.dev"},
		{"Blake Lender", "blake@bookhooks.dev"},
	}

	for _, d := range demo {
		var count int64
		if err := DB.Model(&models.User{}).Where("email = ?", d.email).Count(&count).Error; err != nil {
			log.Fatalf("🔥 Failed to check for demo user: %v", err)
			return
		}
		if count > 0 {
			continue
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte("bookhooks-demo"), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("🔥 Failed to hash demo password: %v", err)
			return
		}

		user := models.User{
			DisplayName: d.name,
			Email:       d.email,
			Password:    string(hashedPassword),
		}
		if err := DB.Create(&user).Error; err != nil {
			log.Fatalf("🔥 Failed to seed demo user: %v", err)
			return
		}
	}

	log.Println("✅ Demo users seeded successfully")
}
