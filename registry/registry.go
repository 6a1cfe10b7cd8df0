package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ferreirogomes/tiquin-streams/ledger"
	"github.com/ferreirogomes/tiquin-streams/models"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidAsset      = errors.New("ativo inválido")
	ErrAssetNotFound     = errors.New("ativo não encontrado")
	ErrYieldStreamExists = errors.New("ativo já possui stream de rendimento")
	ErrStreamAlreadyUsed = errors.New("stream já vinculado a outro ativo")
	ErrAlreadyRented     = errors.New("ativo já está alugado")
	ErrNoActiveRental    = errors.New("ativo não possui aluguel ativo")
)

// Store persiste o índice de ativos.
type Store interface {
	SaveAsset(ctx context.Context, entry models.TokenIndexEntry) error
	ListAssets(ctx context.Context) ([]models.TokenIndexEntry, error)
}

// Registry associa ativos aos seus streams de rendimento e de aluguel.
// Nunca altera streams diretamente: toda mutação passa pelo Ledger.
type Registry struct {
	ledger *ledger.Ledger
	store  Store
	logger zerolog.Logger

	mu     sync.RWMutex // protege assets; nunca é tomado com um assetEntry travado
	assets map[string]*assetEntry

	streamsMu sync.RWMutex // protege byStream; sempre o último lock adquirido
	byStream  map[uint64]string
}

type assetEntry struct {
	mu    sync.RWMutex
	entry models.TokenIndexEntry
}

// New cria um registry vazio ligado ao ledger.
func New(l *ledger.Ledger, store Store, logger zerolog.Logger) *Registry {
	return &Registry{
		ledger:   l,
		store:    store,
		logger:   logger.With().Str("component", "registry").Logger(),
		assets:   make(map[string]*assetEntry),
		byStream: make(map[uint64]string),
	}
}

// Load carrega o índice persistido.
func (r *Registry) Load(ctx context.Context) error {
	entries, err := r.store.ListAssets(ctx)
	if err != nil {
		return fmt.Errorf("falha ao carregar índice de ativos: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamsMu.Lock()
	defer r.streamsMu.Unlock()
	for _, e := range entries {
		r.assets[e.AssetID] = &assetEntry{entry: e}
		r.indexStreams(e)
	}
	r.logger.Info().Int("assets", len(entries)).Msg("índice de ativos carregado")
	return nil
}

// RegisterYieldStream vincula, uma única vez, o stream de rendimento de um ativo.
// O dono do ativo passa a ser o recipient desse stream.
func (r *Registry) RegisterYieldStream(ctx context.Context, assetID string, streamID uint64, assetType, metadataURI string) (models.TokenIndexEntry, error) {
	if strings.TrimSpace(assetID) == "" {
		return models.TokenIndexEntry{}, ErrInvalidAsset
	}
	stream, err := r.ledger.Get(streamID)
	if err != nil {
		return models.TokenIndexEntry{}, err
	}
	if assetType == "" {
		assetType = models.AssetTypeGeneric
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.streamsMu.RLock()
	owner, used := r.byStream[streamID]
	r.streamsMu.RUnlock()
	if used {
		return models.TokenIndexEntry{}, fmt.Errorf("%w: stream %d pertence a %s", ErrStreamAlreadyUsed, streamID, owner)
	}

	now := time.Now()
	ae, exists := r.assets[assetID]
	var next models.TokenIndexEntry
	if exists {
		ae.mu.Lock()
		defer ae.mu.Unlock()
		if ae.entry.YieldStreamID != nil {
			return models.TokenIndexEntry{}, fmt.Errorf("%w: %s", ErrYieldStreamExists, assetID)
		}
		next = ae.entry.Clone()
	} else {
		next = models.TokenIndexEntry{AssetID: assetID, CreatedAt: now}
	}

	next.AssetType = assetType
	next.MetadataURI = metadataURI
	next.Owner = stream.Recipient
	next.YieldStreamID = &streamID
	next.UpdatedAt = now

	if err := r.store.SaveAsset(ctx, next); err != nil {
		return models.TokenIndexEntry{}, fmt.Errorf("falha ao gravar ativo %s: %w", assetID, err)
	}
	if exists {
		ae.entry = next
	} else {
		r.assets[assetID] = &assetEntry{entry: next}
	}
	r.streamsMu.Lock()
	r.byStream[streamID] = assetID
	r.streamsMu.Unlock()

	r.logger.Info().Str("asset_id", assetID).Uint64("stream_id", streamID).Str("owner", next.Owner).Msg("stream de rendimento registrado")
	return next.Clone(), nil
}

// StartRental abre um stream de aluguel do inquilino para o dono atual do ativo.
func (r *Registry) StartRental(ctx context.Context, assetID, tenant string, paymentAmount, duration int64) (models.TokenIndexEntry, models.Stream, error) {
	ae, err := r.lookup(assetID)
	if err != nil {
		return models.TokenIndexEntry{}, models.Stream{}, err
	}

	ae.mu.Lock()
	defer ae.mu.Unlock()

	if r.rentalActive(ae.entry, r.ledger.Now()) {
		return models.TokenIndexEntry{}, models.Stream{}, fmt.Errorf("%w: %s", ErrAlreadyRented, assetID)
	}

	stream, err := r.ledger.Create(ctx, tenant, ae.entry.Owner, paymentAmount, duration)
	if err != nil {
		return models.TokenIndexEntry{}, models.Stream{}, err
	}

	next := ae.entry.Clone()
	next.RentalStreamID = &stream.ID
	next.RentalHistory = append(next.RentalHistory, stream.ID)
	next.UpdatedAt = time.Now()

	if err := r.store.SaveAsset(ctx, next); err != nil {
		// Sem o vínculo o aluguel não existe: devolve tudo ao inquilino.
		if _, rbErr := r.ledger.Terminate(ctx, stream.ID, "falha ao vincular aluguel"); rbErr != nil {
			r.logger.Error().Err(rbErr).Uint64("stream_id", stream.ID).Msg("falha ao desfazer stream de aluguel órfão")
		}
		return models.TokenIndexEntry{}, models.Stream{}, fmt.Errorf("falha ao gravar aluguel do ativo %s: %w", assetID, err)
	}
	ae.entry = next

	r.streamsMu.Lock()
	r.byStream[stream.ID] = assetID
	r.streamsMu.Unlock()

	r.logger.Info().
		Str("asset_id", assetID).
		Uint64("stream_id", stream.ID).
		Str("tenant", tenant).
		Int64("payment_amount", paymentAmount).
		Msg("aluguel iniciado")
	return next.Clone(), stream, nil
}

// EndRental cancela o aluguel corrente (inquilino ou dono) e limpa o vínculo.
func (r *Registry) EndRental(ctx context.Context, assetID, caller string) (ledger.Receipt, error) {
	ae, err := r.lookup(assetID)
	if err != nil {
		return ledger.Receipt{}, err
	}

	ae.mu.Lock()
	defer ae.mu.Unlock()

	if ae.entry.RentalStreamID == nil {
		return ledger.Receipt{}, fmt.Errorf("%w: %s", ErrNoActiveRental, assetID)
	}
	streamID := *ae.entry.RentalStreamID

	receipt, err := r.ledger.Cancel(ctx, streamID, caller)
	if err != nil {
		return ledger.Receipt{}, err
	}

	next := ae.entry.Clone()
	next.RentalStreamID = nil
	next.UpdatedAt = time.Now()
	if err := r.store.SaveAsset(ctx, next); err != nil {
		// O stream já foi liquidado; a varredura de expirados limpa o vínculo depois.
		r.logger.Warn().Err(err).Str("asset_id", assetID).Uint64("stream_id", streamID).Msg("falha ao limpar vínculo de aluguel")
		return receipt, nil
	}
	ae.entry = next

	r.logger.Info().Str("asset_id", assetID).Uint64("stream_id", streamID).Str("caller", caller).Msg("aluguel encerrado")
	return receipt, nil
}

// GetActiveRental informa se o ativo está alugado agora. O id retornado é o do
// vínculo de aluguel corrente, mesmo quando esse aluguel já expirou.
func (r *Registry) GetActiveRental(assetID string) (bool, uint64) {
	ae, err := r.lookup(assetID)
	if err != nil {
		return false, 0
	}
	ae.mu.RLock()
	defer ae.mu.RUnlock()

	if ae.entry.RentalStreamID == nil {
		return false, 0
	}
	return r.rentalActive(ae.entry, r.ledger.Now()), *ae.entry.RentalStreamID
}

// CheckAccess é a consulta de acesso físico (fechaduras, veículos). Leitura pura:
// verdadeiro só para o aluguel corrente, ativo e com orçamento restante.
func (r *Registry) CheckAccess(streamID uint64, assetID string) bool {
	ae, err := r.lookup(assetID)
	if err != nil {
		return false
	}
	ae.mu.RLock()
	defer ae.mu.RUnlock()

	if ae.entry.RentalStreamID == nil || *ae.entry.RentalStreamID != streamID {
		return false
	}
	return r.rentalActive(ae.entry, r.ledger.Now())
}

// TransferOwnership troca o dono do ativo. Os próximos aluguéis pagam ao novo dono;
// o stream de rendimento existente não é reatribuído.
func (r *Registry) TransferOwnership(ctx context.Context, assetID, newOwner string) (models.TokenIndexEntry, error) {
	if strings.TrimSpace(newOwner) == "" {
		return models.TokenIndexEntry{}, ledger.ErrInvalidPrincipal
	}
	ae, err := r.lookup(assetID)
	if err != nil {
		return models.TokenIndexEntry{}, err
	}

	ae.mu.Lock()
	defer ae.mu.Unlock()

	if r.rentalActive(ae.entry, r.ledger.Now()) {
		return models.TokenIndexEntry{}, fmt.Errorf("%w: troca de dono bloqueada durante o aluguel", ErrAlreadyRented)
	}

	next := ae.entry.Clone()
	previous := next.Owner
	next.Owner = newOwner
	next.UpdatedAt = time.Now()
	if err := r.store.SaveAsset(ctx, next); err != nil {
		return models.TokenIndexEntry{}, fmt.Errorf("falha ao gravar ativo %s: %w", assetID, err)
	}
	ae.entry = next

	r.logger.Info().Str("asset_id", assetID).Str("from", previous).Str("to", newOwner).Msg("dono do ativo alterado")
	return next.Clone(), nil
}

// SweepExpiredRentals limpa vínculos de aluguel cujo stream já não está ativo
// (expiração natural, orçamento esgotado ou cancelamento direto no ledger).
func (r *Registry) SweepExpiredRentals(ctx context.Context) (int, error) {
	r.mu.RLock()
	entries := make([]*assetEntry, 0, len(r.assets))
	for _, ae := range r.assets {
		entries = append(entries, ae)
	}
	r.mu.RUnlock()

	cleared := 0
	var errs []error
	for _, ae := range entries {
		ok, err := r.sweep(ctx, ae)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			cleared++
		}
	}
	return cleared, errors.Join(errs...)
}

func (r *Registry) sweep(ctx context.Context, ae *assetEntry) (bool, error) {
	ae.mu.Lock()
	defer ae.mu.Unlock()

	if ae.entry.RentalStreamID == nil || r.rentalActive(ae.entry, r.ledger.Now()) {
		return false, nil
	}
	next := ae.entry.Clone()
	expired := *next.RentalStreamID
	next.RentalStreamID = nil
	next.UpdatedAt = time.Now()
	if err := r.store.SaveAsset(ctx, next); err != nil {
		return false, fmt.Errorf("falha ao limpar aluguel expirado do ativo %s: %w", next.AssetID, err)
	}
	ae.entry = next
	r.logger.Info().Str("asset_id", next.AssetID).Uint64("stream_id", expired).Msg("aluguel expirado removido")
	return true, nil
}

// Get retorna a entrada do índice de um ativo.
func (r *Registry) Get(assetID string) (models.TokenIndexEntry, error) {
	ae, err := r.lookup(assetID)
	if err != nil {
		return models.TokenIndexEntry{}, err
	}
	ae.mu.RLock()
	defer ae.mu.RUnlock()
	return ae.entry.Clone(), nil
}

// AssetForStream resolve o ativo dono de um stream, inclusive aluguéis antigos.
func (r *Registry) AssetForStream(streamID uint64) (models.TokenIndexEntry, bool) {
	r.streamsMu.RLock()
	assetID, ok := r.byStream[streamID]
	r.streamsMu.RUnlock()
	if !ok {
		return models.TokenIndexEntry{}, false
	}
	entry, err := r.Get(assetID)
	return entry, err == nil
}

// List retorna todas as entradas ordenadas por asset id.
func (r *Registry) List() []models.TokenIndexEntry {
	r.mu.RLock()
	entries := make([]*assetEntry, 0, len(r.assets))
	for _, ae := range r.assets {
		entries = append(entries, ae)
	}
	r.mu.RUnlock()

	out := make([]models.TokenIndexEntry, 0, len(entries))
	for _, ae := range entries {
		ae.mu.RLock()
		out = append(out, ae.entry.Clone())
		ae.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

func (r *Registry) lookup(assetID string) (*assetEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ae, ok := r.assets[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, assetID)
	}
	return ae, nil
}

// rentalActive: vínculo presente, stream ativo e orçamento não esgotado.
func (r *Registry) rentalActive(e models.TokenIndexEntry, now int64) bool {
	if e.RentalStreamID == nil {
		return false
	}
	s, err := r.ledger.Get(*e.RentalStreamID)
	if err != nil {
		return false
	}
	return s.Status == models.StreamActive && !ledger.BudgetExhausted(s, now)
}

func (r *Registry) indexStreams(e models.TokenIndexEntry) {
	if e.YieldStreamID != nil {
		r.byStream[*e.YieldStreamID] = e.AssetID
	}
	if e.RentalStreamID != nil {
		r.byStream[*e.RentalStreamID] = e.AssetID
	}
	for _, id := range e.RentalHistory {
		r.byStream[id] = e.AssetID
	}
}
