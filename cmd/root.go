package cmd

import (
	"os"

	"github.com/ferreirogomes/tiquin-streams/config"
	"github.com/ferreirogomes/tiquin-streams/observability"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath string

	appConfig config.Config
	logger    zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tiquin-streams",
	Short: "Ledger de pagamentos contínuos e aluguéis de ativos tokenizados",
	Long: "tiquin-streams mantém streams de pagamento em custódia (escrow), o índice de\n" +
		"ativos tokenizados com seus aluguéis e a liquidação dos pagamentos na Solana.",
	SilenceUsage:      true,
	PersistentPreRunE: initializeApp,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "arquivo de configuração TOML")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initializeApp(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	appConfig = cfg
	logger = observability.InitLogger("tiquin-streams", cfg.LogLevel, cfg.LogFormat)
	return nil
}
