package main

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/YAtOff/s3rsync/internal/config"
	"github.com/YAtOff/s3rsync/internal/db"
	"github.com/YAtOff/s3rsync/internal/store"
	"github.com/YAtOff/s3rsync/internal/sync"
	"github.com/YAtOff/s3rsync/internal/utils"
	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset sync state",
}

// clearLocalCmd forgets everything this client knows about a root folder: the
// stored history rows and the signature cache. The files themselves are left
// alone; the next sync treats them as new.
var clearLocalCmd = &cobra.Command{
	Use:   "local <root-folder>",
	Short: "Drop local sync state for a root folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		root, err := utils.ResolvePath(args[0])
		if err != nil {
			return err
		}

		database, err := db.NewSqliteDb(db.WithPath(cfg.LocalDB), db.WithMaxOpenConns(1))
		if err != nil {
			return err
		}
		defer database.Close()

		history, err := sync.NewHistoryStore(database)
		if err != nil {
			return err
		}
		rootID, err := history.RootFolder(root)
		if err != nil {
			return err
		}
		if err := history.DeleteByRoot(rootID); err != nil {
			return err
		}

		entries, err := os.ReadDir(cfg.SignatureFolder)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear signature cache: %w", err)
		}
		for _, e := range entries {
			if err := os.Remove(filepath.Join(cfg.SignatureFolder, e.Name())); err != nil {
				return fmt.Errorf("clear signature cache: %w", err)
			}
		}

		slog.Info("cleared local sync state", "root", root)
		return nil
	},
}

// clearRemoteCmd deletes every object under a prefix: content blobs in the
// storage bucket, histories and entry blobs in the internal bucket.
var clearRemoteCmd = &cobra.Command{
	Use:   "remote <s3-prefix>",
	Short: "Delete all remote objects under a prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := args[0]

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		objStore, err := store.NewS3Store(ctx, &store.S3Config{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return err
		}

		targets := []struct {
			bucket string
			prefix string
		}{
			{cfg.StorageBucket, prefix + "/"},
			{cfg.InternalBucket, path.Join(prefix, cfg.SyncMetadataPrefix) + "/"},
		}
		for _, target := range targets {
			objects, err := objStore.ListLatestVersions(ctx, target.bucket, target.prefix)
			if err != nil {
				return err
			}
			for _, obj := range objects {
				if err := objStore.Delete(ctx, target.bucket, obj.Key); err != nil {
					return err
				}
				slog.Info("deleted", "bucket", target.bucket, "key", obj.Key)
			}
		}
		return nil
	},
}

func init() {
	clearCmd.AddCommand(clearLocalCmd, clearRemoteCmd)
}
