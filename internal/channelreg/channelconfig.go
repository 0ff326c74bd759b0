// Package channelreg implements the channel registry (spec.md §4.3):
// loads one YAML file per channel from a configuration directory,
// validates it, watches the directory for hot reload, and tracks
// in-memory in-flight capacity counters used by the dispatcher.
package channelreg

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/reelforge/orchestrator/pkg/model"
)

// FileConfig is the on-disk shape of one channel configuration file,
// per the recognized options table in spec.md §6.
type FileConfig struct {
	ChannelID            string  `yaml:"channel_id" validate:"required"`
	ChannelName          string  `yaml:"channel_name" validate:"required"`
	PlanningDBDatabaseID string  `yaml:"planning_db_database_id" validate:"required"`
	PriorityWeight       *int    `yaml:"priority_weight"`
	MaxConcurrent        *int    `yaml:"max_concurrent"`
	VoiceID              string  `yaml:"voice_id"`
	Branding             struct {
		IntroPath string `yaml:"intro_path"`
		OutroPath string `yaml:"outro_path"`
	} `yaml:"branding"`
	StorageStrategy      string   `yaml:"storage_strategy" validate:"omitempty,oneof=local external_object_store"`
	UploadPrivacyDefault string   `yaml:"upload_privacy_default" validate:"omitempty,oneof=private unlisted public"`
	DailySpendCapUSD     *float64 `yaml:"daily_spend_cap_usd"`
	IsActive             *bool    `yaml:"is_active"`

	// Plaintext credentials read from the file; Registry.Scan encrypts
	// them through the vault on every pass, and only the encrypted blobs
	// reach model.Channel and the store.
	PlanningDBToken    string `yaml:"planning_db_token"`
	UploadRefreshToken string `yaml:"upload_refresh_token"`
}

var validate = validator.New()

// ParseFile reads and validates a single channel configuration file. A
// file with missing required fields is rejected with a precise message
// and must never block the rest of the registry's scan.
func ParseFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channel config %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse channel config %s: %w", path, err)
	}
	if err := validate.Struct(&fc); err != nil {
		return nil, fmt.Errorf("invalid channel config %s: %w", path, err)
	}
	return &fc, nil
}

// ToChannel converts a validated FileConfig into the defaults-applied
// domain Channel, per the recognized-options table in spec.md §6.
func (fc *FileConfig) ToChannel() model.Channel {
	c := model.Channel{
		ChannelID:            fc.ChannelID,
		ChannelName:          fc.ChannelName,
		PlanningDBDatabaseID: fc.PlanningDBDatabaseID,
		Active:               true,
		PriorityWeight:       1,
		MaxConcurrent:        3,
		VoiceID:              fc.VoiceID,
		IntroPath:            fc.Branding.IntroPath,
		OutroPath:            fc.Branding.OutroPath,
		StorageStrategy:      model.StorageLocal,
		UploadPrivacyDefault: model.PrivacyPrivate,
		DailySpendCapUSD:     fc.DailySpendCapUSD,
	}
	if fc.PriorityWeight != nil {
		c.PriorityWeight = *fc.PriorityWeight
	}
	if fc.MaxConcurrent != nil {
		c.MaxConcurrent = *fc.MaxConcurrent
	}
	if fc.StorageStrategy != "" {
		c.StorageStrategy = model.StorageStrategy(fc.StorageStrategy)
	}
	if fc.UploadPrivacyDefault != "" {
		c.UploadPrivacyDefault = model.UploadPrivacy(fc.UploadPrivacyDefault)
	}
	if fc.IsActive != nil {
		c.Active = *fc.IsActive
	}
	return c
}
