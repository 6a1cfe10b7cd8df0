package cmd

import (
	"errors"
	"fmt"

	"github.com/ferreirogomes/tiquin-streams/storage"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Aplica as migrações embutidas no PostgreSQL",
	Long: `Aplica (ou reverte, com --down) as migrações SQL embutidas no binário.

Exemplos:
  tiquin-streams migrate          # aplica as migrações pendentes
  tiquin-streams migrate --down   # reverte todas as migrações`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "reverte as migrações em vez de aplicá-las")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if appConfig.DatabaseURL == "" {
		return errors.New("DATABASE_URL é obrigatório para migrar")
	}
	db, err := storage.Open(appConfig.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	dir := migrate.Up
	if migrateDown {
		dir = migrate.Down
	}
	n, err := db.Migrate(dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d migrações aplicadas\n", n)
	return nil
}
