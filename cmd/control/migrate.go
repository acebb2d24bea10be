package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nexusd/nexusd/pkg/config"
	"github.com/nexusd/nexusd/pkg/storage"
)

func openForMigration(dataDir string) (*storage.BoltStore, error) {
	return storage.NewBoltStore(dataDir)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Back up the control database and ensure its buckets are current",
	Long: `migrate copies the existing bbolt database aside, then opens it with
NewBoltStore so any bucket introduced by a newer build is created. It does
not transform existing records; NewBoltStore's CreateBucketIfNotExists calls
are the migration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := config.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		cfg, err := config.LoadControl()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return runMigrate(cfg.DataDir, dryRun)
	},
}

func init() {
	migrateCmd.Flags().Bool("dry-run", false, "Report what would be backed up without touching the database")
}

func runMigrate(dataDir string, dryRun bool) error {
	dbPath := filepath.Join(dataDir, "nexusd.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Printf("no database at %s, nothing to migrate\n", dbPath)
		return nil
	}

	backupPath := dbPath + ".backup"
	fmt.Printf("database: %s\n", dbPath)
	fmt.Printf("backup:   %s\n", backupPath)
	if dryRun {
		fmt.Println("dry run: skipping backup and bucket sync")
		return nil
	}

	if err := copyFile(dbPath, backupPath); err != nil {
		return fmt.Errorf("back up database: %w", err)
	}
	fmt.Println("backup created")

	store, err := openForMigration(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	fmt.Println("buckets synced")
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
