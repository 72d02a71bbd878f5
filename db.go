package main

import (
	"log"
	"os"
	"strings"
	"time"

	"kopkar/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var db *gorm.DB

func initDB() {
	var err error
	driver := strings.ToLower(os.Getenv("DB_DRIVER"))
	dsn := os.Getenv("DB_DSN")
	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = "kopkar.db"
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		if dsn == "" {
			log.Fatal("DB_DSN is not set. Provide a Postgres DSN in DB_DSN or set DB_DRIVER=sqlite for local use.")
		}
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	}
	if err != nil {
		log.Fatal("failed to connect database:", err)
	}

	// Control schema migrations with env DB_AUTO_MIGRATE (default true).
	shouldMigrate := true
	if v := os.Getenv("DB_AUTO_MIGRATE"); v != "" {
		lv := strings.ToLower(v)
		if lv == "false" || lv == "0" || lv == "no" {
			shouldMigrate = false
		}
	}
	if shouldMigrate {
		// Migrate models individually so a failure on one doesn't block others
		for _, m := range models.All() {
			if err := db.AutoMigrate(m); err != nil {
				log.Printf("migration warning (%T): %v", m, err)
			}
		}
	}
}

// seedDemoData creates a couple of members so a fresh install has
// something to poke at. Idempotent on member number.
func seedDemoData() {
	members := []models.Member{
		{
			MemberNo:         "KOP-0001",
			Name:             "Demo Member",
			Status:           models.MemberActive,
			RegistrationDate: time.Now().AddDate(-1, -1, 0),
			EligibleAmount:   decimal.NewFromInt(500000),
			BankName:         "Bank Demo",
			BankAccountNo:    "0123456789",
		},
		{
			MemberNo:         "KOP-0002",
			Name:             "New Member",
			Status:           models.MemberPending,
			RegistrationDate: time.Now(),
		},
	}
	for _, m := range members {
		var cnt int64
		db.Model(&models.Member{}).Where("member_no = ?", m.MemberNo).Count(&cnt)
		if cnt == 0 {
			if err := db.Create(&m).Error; err != nil {
				log.Printf("seed member %s: %v", m.MemberNo, err)
				continue
			}
			log.Printf("seeded member %s (%s)", m.MemberNo, m.Status)
		}
	}
}

// uploadBaseDir returns the base directory for stored receipt artifacts
// (configurable via UPLOAD_BASE env).
func uploadBaseDir() string {
	if v := os.Getenv("UPLOAD_BASE"); v != "" {
		return v
	}
	return "uploads"
}
