package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/zulandar/orderbot/internal/config"
	"github.com/zulandar/orderbot/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBSeedCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the orderbot tables",
		Long:  "Creates the MySQL database if needed and migrates all tables. SQLite files are created on first use.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "orderbot.yaml", "path to orderbot config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Database.Driver == "mysql" {
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return err
		}
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Name)
	}

	gormDB, err := openDB(cfg)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

func newDBSeedCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "seed [tenant-file...]",
		Short: "Load tenant catalogs into the database",
		Long: `Reads tenant YAML files and replaces each tenant's menu, order types and
payment methods in the database. Without arguments the files listed under
tenant_files in the config are used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBSeed(cmd, configPath, args)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "orderbot.yaml", "path to orderbot config file")
	return cmd
}

func runDBSeed(cmd *cobra.Command, configPath string, files []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(files) == 0 {
		files = cfg.TenantFiles
	}
	if len(files) == 0 {
		return fmt.Errorf("no tenant files given and none listed in %s", configPath)
	}

	gormDB, err := openDB(cfg)
	if err != nil {
		return err
	}
	return seedTenants(out, gormDB, files)
}

// seedTenants loads and seeds each tenant file.
func seedTenants(out io.Writer, gormDB *gorm.DB, files []string) error {
	for _, path := range files {
		t, err := config.LoadTenant(path)
		if err != nil {
			return err
		}
		if err := db.SeedTenant(gormDB, t); err != nil {
			return err
		}
		items := 0
		for _, c := range t.Categories {
			items += len(c.Items)
		}
		fmt.Fprintf(out, "Seeded tenant %q: %d categories, %d items, %d order types\n",
			t.ID, len(t.Categories), items, len(t.OrderTypes))
	}
	return nil
}
