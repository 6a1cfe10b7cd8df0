package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ferreirogomes/tiquin-streams/blockchain_listener"
	"github.com/ferreirogomes/tiquin-streams/config"
	"github.com/ferreirogomes/tiquin-streams/handlers"
	"github.com/ferreirogomes/tiquin-streams/ledger"
	"github.com/ferreirogomes/tiquin-streams/observability"
	"github.com/ferreirogomes/tiquin-streams/registry"
	"github.com/ferreirogomes/tiquin-streams/services"
	"github.com/ferreirogomes/tiquin-streams/storage"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Sobe a API HTTP e o listener da blockchain",
	RunE:  runServe,
}

// appStore é satisfeito tanto pelo Postgres quanto pelo store em memória.
type appStore interface {
	ledger.Store
	registry.Store
	blockchain_listener.TransferStore
	handlers.TransferLister
}

type app struct {
	router   http.Handler
	listener *blockchain_listener.BlockchainListener
	close    func() error
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.RegisterMetrics()
	a, err := newApp(ctx, appConfig, clock.New(), logger)
	if err != nil {
		return err
	}
	defer a.close()

	go a.listener.StartListening(ctx)
	logger.Info().Msg("listener da blockchain iniciado")

	srv := &http.Server{
		Addr:              appConfig.HTTPAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", appConfig.HTTPAddr).Msg("servidor backend rodando")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("falha no servidor HTTP: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("encerrando servidor")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newApp liga store, ledger, registry, gate, settlement e rotas a partir da configuração.
func newApp(ctx context.Context, cfg config.Config, clk clock.Clock, logger zerolog.Logger) (*app, error) {
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	l := ledger.New(store, clk, logger)
	if err := l.Load(ctx); err != nil {
		closeStore()
		return nil, err
	}
	reg := registry.New(l, store, logger)
	if err := reg.Load(ctx); err != nil {
		closeStore()
		return nil, err
	}

	service := services.NewStreamingService(l, reg, newGate(cfg, logger), cfg.Admins, logger)

	settler, err := newSettler(cfg, logger)
	if err != nil {
		closeStore()
		return nil, err
	}
	listener := blockchain_listener.NewBlockchainListener(store, settler, reg, blockchain_listener.Options{
		Interval:    cfg.ListenerInterval,
		BatchSize:   cfg.ListenerBatchSize,
		MaxAttempts: cfg.ListenerMaxAttempts,
	}, clk, logger)

	access, err := handlers.NewAccessLimiter(cfg.AccessRate, cfg.AccessBurst)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("falha ao criar rate limiter de acesso: %w", err)
	}

	return &app{
		router:   handlers.NewRouter(service, store, access, logger),
		listener: listener,
		close:    closeStore,
	}, nil
}

func openStore(cfg config.Config, logger zerolog.Logger) (appStore, func() error, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL não definido: usando store em memória, nada será persistido")
		return storage.NewMemoryStore(), func() error { return nil }, nil
	}
	db, err := storage.NewDB(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("falha fatal ao conectar ao banco de dados e aplicar migrações: %w", err)
	}
	return db, db.Close, nil
}

func newGate(cfg config.Config, logger zerolog.Logger) services.ComplianceGate {
	switch cfg.Compliance.Mode {
	case config.ComplianceStatic:
		return services.NewStaticGate(cfg.Compliance.DeniedPrincipals, cfg.Compliance.DeniedAssetTypes)
	case config.ComplianceRemote:
		return services.NewRemoteComplianceGate(cfg.Compliance.RemoteURL, cfg.Compliance.Timeout, cfg.Compliance.MaxRetries, logger)
	default:
		logger.Warn().Msg("compliance em modo allow_all: todos os participantes são aceitos")
		return services.AllowAllGate{}
	}
}

func newSettler(cfg config.Config, logger zerolog.Logger) (services.Settler, error) {
	if !cfg.SettlementEnabled() {
		logger.Warn().Msg("Solana não configurada: pagamentos serão confirmados sem liquidação on-chain")
		return services.NoopSettler{}, nil
	}
	settler, err := services.NewSolanaSettlementService(cfg.SolanaRPCURL, cfg.SolanaVaultPrivateKey, cfg.SolanaMint, logger)
	if err != nil {
		return nil, fmt.Errorf("falha ao inicializar serviço Solana: %w", err)
	}
	return settler, nil
}
