package database

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
)

// SeedDevData inserts a completed sample story for local development.
// Idempotent: skips if any story already exists.
func SeedDevData(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Story{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count stories: %w", err)
	}
	if count > 0 {
		slog.Info("Seed data already exists, skipping")
		return nil
	}

	sample := models.Story{
		ImageURL:         "/uploads/sample.jpg",
		Title:            "Memories in Frame",
		Content:          "This photograph reveals a world frozen in time, where every element tells its own tale.",
		ProcessingStatus: models.StatusCompleted,
		CreatedAt:        time.Now().UTC(),
	}
	if err := db.Create(&sample).Error; err != nil {
		return fmt.Errorf("failed to seed sample story: %w", err)
	}

	slog.Info("Seeded dev data: 1 completed story", "story_id", sample.ID)
	return nil
}
