// Command migrate_data copies a SQLite development database into PostgreSQL.
package main

import (
	"fmt"
	"os"
	"reflect"

	"github.com/spf13/cobra"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smartreply-crm/internal/config"
	"smartreply-crm/internal/database"
	"smartreply-crm/internal/logging"
	"smartreply-crm/internal/models"
)

const batchSize = 200

func main() {
	var envFile, source string

	cmd := &cobra.Command{
		Use:           "migrate_data",
		Short:         "Copy every table from a SQLite database into the configured PostgreSQL database",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(envFile)
			if err != nil {
				return err
			}
			log := logging.New(nil, cfg.LogLevel).Sub("migrate")
			if source == "" {
				source = cfg.DBPath
			}

			// 1. Connect to SQLite (Source)
			src, err := gorm.Open(sqlite.Open(source), &gorm.Config{})
			if err != nil {
				return fmt.Errorf("connect sqlite %s: %w", source, err)
			}
			log.Info().Str("path", source).Msg("connected to sqlite")

			// 2. Connect to PostgreSQL (Destination), migrated on open
			cfg.DBDriver = "postgres"
			dst, err := database.Open(cfg)
			if err != nil {
				return err
			}

			for _, m := range models.All() {
				n, err := copyTable(src, dst, m)
				if err != nil {
					return err
				}
				log.Info().Str("model", reflect.TypeOf(m).Elem().Name()).Int("rows", n).Msg("table copied")
			}
			log.Info().Msg("migration completed")
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "env file with the PostgreSQL settings")
	cmd.Flags().StringVar(&source, "source", "", "sqlite file to read (default DB_PATH)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// copyTable streams one model's rows in batches. Rows already present in
// the destination are skipped so the copy can be re-run.
func copyTable(src, dst *gorm.DB, model any) (int, error) {
	rows := reflect.New(reflect.SliceOf(reflect.TypeOf(model).Elem()))
	copied := 0

	res := src.Model(model).FindInBatches(rows.Interface(), batchSize, func(tx *gorm.DB, batch int) error {
		if rows.Elem().Len() == 0 {
			return nil
		}
		err := dst.Transaction(func(pg *gorm.DB) error {
			return pg.Clauses(clause.OnConflict{DoNothing: true}).Omit(clause.Associations).Create(rows.Interface()).Error
		})
		if err != nil {
			return fmt.Errorf("batch %d: %w", batch, err)
		}
		copied += rows.Elem().Len()
		return nil
	})
	if res.Error != nil {
		return copied, fmt.Errorf("copy %T: %w", model, res.Error)
	}
	return copied, resetSequence(dst, model)
}

// resetSequence moves a serial id sequence past the copied ids.
func resetSequence(db *gorm.DB, model any) error {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return fmt.Errorf("parse %T: %w", model, err)
	}
	pk := stmt.Schema.PrioritizedPrimaryField
	if pk == nil || !pk.AutoIncrement {
		return nil
	}
	table := stmt.Schema.Table
	return db.Exec(
		fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%s', '%s'), COALESCE(MAX(%s), 1)) FROM %s",
			table, pk.DBName, pk.DBName, table),
	).Error
}
