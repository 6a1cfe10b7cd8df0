package blockchain_listener

import (
	"context"
	"errors"
	"time"

	"github.com/ferreirogomes/tiquin-streams/models"
	"github.com/ferreirogomes/tiquin-streams/observability"
	"github.com/ferreirogomes/tiquin-streams/services"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// TransferStore é a fila de saída (outbox) de transfers gravada pelo ledger.
type TransferStore interface {
	TransfersByStatus(ctx context.Context, status models.TransferStatus, limit int) ([]models.Transfer, error)
	UpdateTransfer(ctx context.Context, t models.Transfer) error
}

// RentalSweeper limpa aluguéis expirados do índice de ativos.
type RentalSweeper interface {
	SweepExpiredRentals(ctx context.Context) (int, error)
}

// Options controla o ritmo do listener.
type Options struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	// SubmitTimeout: depois disso uma transação nunca vista pelo nó é considerada perdida
	// (blockhash expirado) e o transfer volta para a fila.
	SubmitTimeout time.Duration
}

// BlockchainListener entrega os pagamentos do ledger na Solana e acompanha a confirmação.
type BlockchainListener struct {
	Store   TransferStore
	Settler services.Settler
	Sweeper RentalSweeper
	opts    Options
	clock   clock.Clock
	logger  zerolog.Logger
}

// NewBlockchainListener cria uma nova instância do listener.
func NewBlockchainListener(store TransferStore, settler services.Settler, sweeper RentalSweeper, opts Options, clk clock.Clock, logger zerolog.Logger) *BlockchainListener {
	if clk == nil {
		clk = clock.New()
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 2 * time.Minute
	}
	return &BlockchainListener{
		Store:   store,
		Settler: settler,
		Sweeper: sweeper,
		opts:    opts,
		clock:   clk,
		logger:  logger.With().Str("component", "listener").Logger(),
	}
}

// StartListening roda até o contexto ser cancelado.
func (l *BlockchainListener) StartListening(ctx context.Context) {
	l.logger.Info().Dur("interval", l.opts.Interval).Msg("iniciando listener da blockchain")
	ticker := l.clock.Ticker(l.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("listener da blockchain encerrado")
			return
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error().Err(err).Msg("erro no ciclo do listener")
			}
		}
	}
}

// Tick faz uma passada completa: envia pendentes, confirma enviados e varre aluguéis expirados.
func (l *BlockchainListener) Tick(ctx context.Context) error {
	var errs []error
	if err := l.dispatchPending(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := l.confirmSubmitted(ctx); err != nil {
		errs = append(errs, err)
	}
	if l.Sweeper != nil {
		if n, err := l.Sweeper.SweepExpiredRentals(ctx); err != nil {
			errs = append(errs, err)
		} else if n > 0 {
			l.logger.Info().Int("cleared", n).Msg("aluguéis expirados removidos")
		}
	}
	return errors.Join(errs...)
}

func (l *BlockchainListener) dispatchPending(ctx context.Context) error {
	pending, err := l.Store.TransfersByStatus(ctx, models.TransferPending, l.opts.BatchSize)
	if err != nil {
		return err
	}
	for _, t := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.Attempts++
		t.UpdatedAt = l.clock.Now()

		sig, err := l.Settler.Settle(ctx, t)
		if err != nil {
			t.LastError = err.Error()
			if errors.Is(err, services.ErrInvalidBeneficiary) || t.Attempts >= l.opts.MaxAttempts {
				t.Status = models.TransferFailed
				l.logger.Error().Err(err).Str("transfer_id", t.ID).Uint64("stream_id", t.StreamID).Int("attempts", t.Attempts).Msg("transfer abandonado")
			} else {
				l.logger.Warn().Err(err).Str("transfer_id", t.ID).Int("attempts", t.Attempts).Msg("falha ao enviar transfer, nova tentativa no próximo ciclo")
			}
		} else {
			t.Status = models.TransferSubmitted
			t.Signature = sig
			t.LastError = ""
		}
		observability.RecordSettlement(string(t.Status))
		if err := l.Store.UpdateTransfer(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (l *BlockchainListener) confirmSubmitted(ctx context.Context) error {
	submitted, err := l.Store.TransfersByStatus(ctx, models.TransferSubmitted, l.opts.BatchSize)
	if err != nil {
		return err
	}
	now := l.clock.Now()
	for _, t := range submitted {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		done, err := l.Settler.Confirm(ctx, t.Signature)
		switch {
		case err == nil && done:
			t.Status = models.TransferConfirmed
			l.logger.Info().Str("transfer_id", t.ID).Str("signature", t.Signature).Msg("transfer confirmado")
		case errors.Is(err, services.ErrTransactionFailed):
			l.retryOrFail(&t, err.Error())
		case err != nil:
			// erro de consulta; tenta de novo no próximo ciclo
			l.logger.Debug().Err(err).Str("transfer_id", t.ID).Msg("falha ao consultar confirmação")
			continue
		case now.Sub(t.UpdatedAt) > l.opts.SubmitTimeout:
			l.retryOrFail(&t, "transação não encontrada após o prazo de envio")
		default:
			continue
		}
		t.UpdatedAt = now
		observability.RecordSettlement(string(t.Status))
		if err := l.Store.UpdateTransfer(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// retryOrFail devolve o transfer para a fila. A transação anterior não movimentou fundos.
func (l *BlockchainListener) retryOrFail(t *models.Transfer, reason string) {
	t.LastError = reason
	t.Signature = ""
	if t.Attempts >= l.opts.MaxAttempts {
		t.Status = models.TransferFailed
		l.logger.Error().Str("transfer_id", t.ID).Str("reason", reason).Msg("transfer abandonado")
		return
	}
	t.Status = models.TransferPending
	l.logger.Warn().Str("transfer_id", t.ID).Str("reason", reason).Msg("transfer devolvido à fila")
}
