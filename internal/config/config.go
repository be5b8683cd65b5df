// Package config loads daemon configuration from the environment (optionally
// seeded from a .env file).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/YAtOff/s3rsync/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	home, _             = os.UserHomeDir()
	defaultDataDir      = filepath.Join(home, ".s3rsync")
	DefaultLocalDB      = filepath.Join(defaultDataDir, "s3rsync.db")
	DefaultSignatureDir = filepath.Join(defaultDataDir, "signatures")
)

const DefaultSyncInterval = 60 * time.Second

// Config is the process-wide configuration bundle.
type Config struct {
	StorageBucket      string
	InternalBucket     string
	SyncMetadataPrefix string
	LocalDB            string
	SignatureFolder    string
	SyncInterval       time.Duration

	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("SYNC_METADATA_PREFIX", "meta")
	v.SetDefault("LOCAL_DB", DefaultLocalDB)
	v.SetDefault("SIGNATURE_FOLDER", DefaultSignatureDir)
	v.SetDefault("SYNC_INTERVAL", DefaultSyncInterval.String())
	for _, key := range []string{
		"STORAGE_BUCKET", "INTERNAL_BUCKET", "SYNC_METADATA_PREFIX",
		"LOCAL_DB", "SIGNATURE_FOLDER", "SYNC_INTERVAL",
		"S3_REGION", "S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY",
	} {
		v.BindEnv(key)
	}

	interval, err := time.ParseDuration(v.GetString("SYNC_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("config: parse SYNC_INTERVAL: %w", err)
	}

	cfg := &Config{
		StorageBucket:      v.GetString("STORAGE_BUCKET"),
		InternalBucket:     v.GetString("INTERNAL_BUCKET"),
		SyncMetadataPrefix: v.GetString("SYNC_METADATA_PREFIX"),
		LocalDB:            v.GetString("LOCAL_DB"),
		SignatureFolder:    v.GetString("SIGNATURE_FOLDER"),
		SyncInterval:       interval,
		S3Region:           v.GetString("S3_REGION"),
		S3Endpoint:         v.GetString("S3_ENDPOINT"),
		S3AccessKey:        v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:        v.GetString("S3_SECRET_KEY"),
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.StorageBucket == "" {
		return fmt.Errorf("config: STORAGE_BUCKET is required")
	}
	if c.InternalBucket == "" {
		return fmt.Errorf("config: INTERNAL_BUCKET is required")
	}
	if c.SyncMetadataPrefix == "" {
		return fmt.Errorf("config: SYNC_METADATA_PREFIX cannot be empty")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("config: SYNC_INTERVAL must be positive")
	}

	var err error
	if c.LocalDB != ":memory:" {
		if c.LocalDB, err = utils.ResolvePath(c.LocalDB); err != nil {
			return fmt.Errorf("config: LOCAL_DB: %w", err)
		}
	}
	if c.SignatureFolder, err = utils.ResolvePath(c.SignatureFolder); err != nil {
		return fmt.Errorf("config: SIGNATURE_FOLDER: %w", err)
	}
	return nil
}
