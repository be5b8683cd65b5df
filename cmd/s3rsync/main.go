package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/YAtOff/s3rsync/internal/config"
	"github.com/YAtOff/s3rsync/internal/db"
	"github.com/YAtOff/s3rsync/internal/store"
	"github.com/YAtOff/s3rsync/internal/sync"
	"github.com/YAtOff/s3rsync/internal/utils"
	"github.com/YAtOff/s3rsync/internal/version"
	"github.com/fatih/color"
	"github.com/gofrs/flock"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	cyan  = color.New(color.FgHiCyan).SprintFunc()
	faint = color.New(color.Faint).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "s3rsync <s3-prefix> <root-folder>",
	Short:   "Delta-versioned directory sync against S3",
	Args:    cobra.ExactArgs(2),
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, root := args[0], args[1]

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flag("interval").Changed {
			interval, _ := cmd.Flags().GetDuration("interval")
			cfg.SyncInterval = interval
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		once, _ := cmd.Flags().GetBool("once")

		cmd.SilenceUsage = true
		fmt.Printf("%s %s\n%s\n", cyan("s3rsync"), version.Short(),
			faint(fmt.Sprintf("%s <-> s3://%s/%s", root, cfg.StorageBucket, prefix)))

		ctx := cmd.Context()

		if err := utils.EnsureParent(cfg.LocalDB); err != nil {
			return err
		}
		lock := flock.New(cfg.LocalDB + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire instance lock: %w", err)
		}
		if !locked {
			return fmt.Errorf("another s3rsync instance is already running")
		}
		defer lock.Unlock()

		database, err := db.NewSqliteDb(db.WithPath(cfg.LocalDB), db.WithMaxOpenConns(1))
		if err != nil {
			return err
		}
		defer database.Close()

		objStore, err := store.NewS3Store(ctx, &store.S3Config{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return err
		}

		session, err := sync.NewSession(cfg, prefix, root, objStore, database)
		if err != nil {
			return err
		}

		worker := sync.NewWorker(session)
		defer slog.Info("Bye!")

		if once {
			return worker.RunOnce(ctx)
		}
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().Bool("once", false, "run a single sync pass and exit")
	rootCmd.Flags().DurationP("interval", "i", config.DefaultSyncInterval, "delay between sync passes")
	rootCmd.AddCommand(rsyncCmd, clearCmd)
}

func main() {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
