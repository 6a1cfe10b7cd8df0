package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ferreirogomes/tiquin-streams/models"
	"github.com/ferreirogomes/tiquin-streams/observability"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store persiste streams e os transfers gerados por cada mutação.
// SaveStream deve gravar o stream e os transfers de forma atômica.
type Store interface {
	SaveStream(ctx context.Context, stream models.Stream, transfers []models.Transfer) error
	ListStreams(ctx context.Context) ([]models.Stream, error)
}

// Receipt é o resultado de uma mutação: o stream já confirmado e os pagamentos que ela gerou.
type Receipt struct {
	Stream    models.Stream     `json:"stream"`
	Transfers []models.Transfer `json:"transfers"`
}

// PaidTo soma o que o recibo pagou a um principal.
func (r Receipt) PaidTo(principal string) int64 {
	var total int64
	for _, t := range r.Transfers {
		if t.Beneficiary == principal {
			total += t.Amount
		}
	}
	return total
}

// Ledger é o dono exclusivo de AmountWithdrawn, AmountRefunded e Status dos streams.
// Cada stream tem seu próprio mutex: a sequência ler-calcular-gravar de uma operação
// é indivisível para aquele stream, e streams diferentes progridem em paralelo.
type Ledger struct {
	store  Store
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.RWMutex // protege streams e nextID
	streams map[uint64]*entry
	nextID  uint64
}

type entry struct {
	mu     sync.Mutex
	stream models.Stream
}

// mutation recebe uma cópia do stream e o instante da chamada. Só a cópia é alterada;
// o ledger a confirma depois que o Store gravou com sucesso.
type mutation func(s *models.Stream, now int64) ([]models.Transfer, error)

// New cria um ledger vazio. Use Load para recuperar o estado persistido.
func New(store Store, clk clock.Clock, logger zerolog.Logger) *Ledger {
	if clk == nil {
		clk = clock.New()
	}
	return &Ledger{
		store:   store,
		clock:   clk,
		logger:  logger.With().Str("component", "ledger").Logger(),
		streams: make(map[uint64]*entry),
		nextID:  1,
	}
}

// Load carrega os streams do Store e continua a numeração a partir do maior id.
func (l *Ledger) Load(ctx context.Context) error {
	streams, err := l.store.ListStreams(ctx)
	if err != nil {
		return fmt.Errorf("falha ao carregar streams: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range streams {
		l.streams[s.ID] = &entry{stream: s}
		if s.ID >= l.nextID {
			l.nextID = s.ID + 1
		}
	}
	l.logger.Info().Int("streams", len(streams)).Uint64("next_id", l.nextID).Msg("ledger carregado")
	return nil
}

// Now é o relógio do ledger em segundos Unix.
func (l *Ledger) Now() int64 {
	return l.clock.Now().Unix()
}

// Create abre um stream com FlowRate = totalAmount / duration (divisão inteira).
func (l *Ledger) Create(ctx context.Context, sender, recipient string, totalAmount, duration int64) (models.Stream, error) {
	stream, err := l.create(ctx, sender, recipient, totalAmount, duration)
	observability.RecordLedgerOp("create", err)
	return stream, err
}

func (l *Ledger) create(ctx context.Context, sender, recipient string, totalAmount, duration int64) (models.Stream, error) {
	if strings.TrimSpace(sender) == "" || strings.TrimSpace(recipient) == "" {
		return models.Stream{}, ErrInvalidPrincipal
	}
	if totalAmount <= 0 {
		return models.Stream{}, fmt.Errorf("%w: total %d", ErrInvalidAmount, totalAmount)
	}
	if duration <= 0 {
		return models.Stream{}, fmt.Errorf("%w: %d segundos", ErrInvalidDuration, duration)
	}
	flowRate := totalAmount / duration
	if flowRate == 0 {
		return models.Stream{}, fmt.Errorf("%w: total %d menor que a duração %d, taxa seria zero", ErrInvalidAmount, totalAmount, duration)
	}

	now := l.clock.Now()
	start := now.Unix()

	l.mu.Lock()
	defer l.mu.Unlock()

	stream := models.Stream{
		ID:          l.nextID,
		Sender:      sender,
		Recipient:   recipient,
		TotalAmount: totalAmount,
		FlowRate:    flowRate,
		StartTime:   start,
		StopTime:    start + duration,
		Status:      models.StreamActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.SaveStream(ctx, stream, nil); err != nil {
		return models.Stream{}, fmt.Errorf("falha ao gravar stream: %w", err)
	}
	l.nextID++
	l.streams[stream.ID] = &entry{stream: stream}

	l.logger.Info().
		Uint64("stream_id", stream.ID).
		Str("sender", sender).
		Str("recipient", recipient).
		Int64("total_amount", totalAmount).
		Int64("flow_rate", flowRate).
		Msg("stream criado")
	return stream, nil
}

// Claim paga ao Recipient tudo o que acumulou e ainda não foi sacado.
// Sem saldo a sacar a chamada é um no-op bem-sucedido.
func (l *Ledger) Claim(ctx context.Context, id uint64, caller string) (Receipt, error) {
	return l.mutate(ctx, id, "claim", func(s *models.Stream, now int64) ([]models.Transfer, error) {
		if err := requireActive(*s); err != nil {
			return nil, err
		}
		if caller != s.Recipient {
			return nil, fmt.Errorf("%w: apenas o recipient pode sacar", ErrUnauthorized)
		}
		claimable := Claimable(*s, now)
		if claimable == 0 {
			return nil, nil
		}
		s.AmountWithdrawn += claimable
		return []models.Transfer{{Kind: models.TransferClaim, Beneficiary: s.Recipient, Amount: claimable}}, nil
	})
}

// Cancel encerra o stream a pedido do Sender ou do Recipient, pagando o acumulado
// ao Recipient e devolvendo o resto ao Sender.
func (l *Ledger) Cancel(ctx context.Context, id uint64, caller string) (Receipt, error) {
	return l.mutate(ctx, id, "cancel", func(s *models.Stream, now int64) ([]models.Transfer, error) {
		if err := requireActive(*s); err != nil {
			return nil, err
		}
		if caller != s.Sender && caller != s.Recipient {
			return nil, fmt.Errorf("%w: apenas sender ou recipient podem cancelar", ErrUnauthorized)
		}
		return settle(s, now), nil
	})
}

// Terminate é o cancelamento administrativo: aceita streams ativos ou congelados.
func (l *Ledger) Terminate(ctx context.Context, id uint64, reason string) (Receipt, error) {
	receipt, err := l.mutate(ctx, id, "terminate", func(s *models.Stream, now int64) ([]models.Transfer, error) {
		if s.Status == models.StreamCancelled {
			return nil, ErrStreamNotActive
		}
		return settle(s, now), nil
	})
	if err == nil {
		l.logger.Warn().Uint64("stream_id", id).Str("reason", reason).Msg("stream encerrado pelo admin")
	}
	return receipt, err
}

// FlashAdvance antecipa ao Recipient parte do acúmulo futuro. O adiantamento entra em
// AmountWithdrawn, então Claimable fica em zero até o acúmulo alcançá-lo.
func (l *Ledger) FlashAdvance(ctx context.Context, id uint64, caller string, amount int64) (Receipt, error) {
	return l.mutate(ctx, id, "flash_advance", func(s *models.Stream, now int64) ([]models.Transfer, error) {
		if err := requireActive(*s); err != nil {
			return nil, err
		}
		if caller != s.Recipient {
			return nil, fmt.Errorf("%w: apenas o recipient pode pedir adiantamento", ErrUnauthorized)
		}
		if amount <= 0 {
			return nil, fmt.Errorf("%w: adiantamento %d", ErrInvalidAmount, amount)
		}
		if escrow := EscrowBalance(*s); amount > escrow {
			return nil, fmt.Errorf("%w: adiantamento %d excede o escrow %d", ErrInvalidAmount, amount, escrow)
		}
		s.AmountWithdrawn += amount
		return []models.Transfer{{Kind: models.TransferAdvance, Beneficiary: s.Recipient, Amount: amount}}, nil
	})
}

// Freeze bloqueia saques, cancelamentos e adiantamentos. O acúmulo continua correndo.
func (l *Ledger) Freeze(ctx context.Context, id uint64, reason string) (models.Stream, error) {
	receipt, err := l.mutate(ctx, id, "freeze", func(s *models.Stream, now int64) ([]models.Transfer, error) {
		if err := requireActive(*s); err != nil {
			return nil, err
		}
		s.Status = models.StreamFrozen
		s.FreezeReason = reason
		return nil, nil
	})
	if err != nil {
		return models.Stream{}, err
	}
	l.logger.Warn().Uint64("stream_id", id).Str("reason", reason).Msg("stream congelado")
	return receipt.Stream, nil
}

// Unfreeze devolve um stream congelado ao estado ativo.
func (l *Ledger) Unfreeze(ctx context.Context, id uint64) (models.Stream, error) {
	receipt, err := l.mutate(ctx, id, "unfreeze", func(s *models.Stream, now int64) ([]models.Transfer, error) {
		switch s.Status {
		case models.StreamFrozen:
		case models.StreamCancelled:
			return nil, ErrStreamNotActive
		default:
			return nil, ErrStreamNotFrozen
		}
		s.Status = models.StreamActive
		s.FreezeReason = ""
		return nil, nil
	})
	if err != nil {
		return models.Stream{}, err
	}
	l.logger.Info().Uint64("stream_id", id).Msg("stream descongelado")
	return receipt.Stream, nil
}

// Get retorna uma cópia do stream (getStreamInfo).
func (l *Ledger) Get(id uint64) (models.Stream, error) {
	e, err := l.lookup(id)
	if err != nil {
		return models.Stream{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream, nil
}

// Status calcula saldos do stream no instante atual (getStreamStatus).
func (l *Ledger) Status(id uint64) (models.StreamStatusView, error) {
	s, err := l.Get(id)
	if err != nil {
		return models.StreamStatusView{}, err
	}
	return View(s, l.Now()), nil
}

// List retorna todos os streams ordenados por id.
func (l *Ledger) List() []models.Stream {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.streams))
	for _, e := range l.streams {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]models.Stream, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.stream)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) lookup(id uint64) (*entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrStreamNotFound, id)
	}
	return e, nil
}

func (l *Ledger) mutate(ctx context.Context, id uint64, op string, fn mutation) (Receipt, error) {
	receipt, err := l.apply(ctx, id, fn)
	observability.RecordLedgerOp(op, err)
	if err != nil {
		l.logger.Debug().Err(err).Uint64("stream_id", id).Str("op", op).Msg("operação rejeitada")
		return Receipt{}, err
	}
	for _, t := range receipt.Transfers {
		observability.RecordPaid(string(t.Kind), t.Amount)
	}
	return receipt, nil
}

func (l *Ledger) apply(ctx context.Context, id uint64, fn mutation) (Receipt, error) {
	e, err := l.lookup(id)
	if err != nil {
		return Receipt{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.clock.Now()
	next := e.stream
	transfers, err := fn(&next, now.Unix())
	if err != nil {
		return Receipt{}, err
	}
	if len(transfers) == 0 && next == e.stream {
		return Receipt{Stream: e.stream}, nil
	}

	next.UpdatedAt = now
	for i := range transfers {
		transfers[i].ID = uuid.New().String()
		transfers[i].StreamID = next.ID
		transfers[i].Status = models.TransferPending
		transfers[i].CreatedAt = now
		transfers[i].UpdatedAt = now
	}
	if err := l.store.SaveStream(ctx, next, transfers); err != nil {
		return Receipt{}, fmt.Errorf("falha ao gravar stream %d: %w", id, err)
	}
	e.stream = next
	return Receipt{Stream: next, Transfers: transfers}, nil
}

func requireActive(s models.Stream) error {
	switch s.Status {
	case models.StreamActive:
		return nil
	case models.StreamFrozen:
		return ErrStreamFrozen
	default:
		return ErrStreamNotActive
	}
}

// settle faz a liquidação final. Um adiantamento maior que o acumulado fica com o
// Recipient: o Sender recebe apenas o que nunca saiu da custódia.
func settle(s *models.Stream, now int64) []models.Transfer {
	earned := Accrued(*s, now)
	if s.AmountWithdrawn > earned {
		earned = s.AmountWithdrawn
	}
	payout := earned - s.AmountWithdrawn
	refund := s.TotalAmount - earned

	s.AmountWithdrawn = earned
	s.AmountRefunded = refund
	s.Status = models.StreamCancelled

	var transfers []models.Transfer
	if payout > 0 {
		transfers = append(transfers, models.Transfer{Kind: models.TransferSettlement, Beneficiary: s.Recipient, Amount: payout})
	}
	if refund > 0 {
		transfers = append(transfers, models.Transfer{Kind: models.TransferRefund, Beneficiary: s.Sender, Amount: refund})
	}
	return transfers
}
