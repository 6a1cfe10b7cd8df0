package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ferreirogomes/tiquin-streams/ledger"
	"github.com/ferreirogomes/tiquin-streams/models"
	"github.com/ferreirogomes/tiquin-streams/registry"

	"github.com/rs/zerolog"
)

var (
	ErrComplianceDenied      = errors.New("participação negada pelo compliance")
	ErrComplianceUnavailable = errors.New("compliance indisponível")
)

// StreamingService é a fachada usada pelos handlers: consulta o gate de compliance
// antes de delegar ao Registry e ao Ledger. Não guarda estado próprio.
type StreamingService struct {
	Ledger   *ledger.Ledger
	Registry *registry.Registry
	Gate     ComplianceGate
	admins   map[string]struct{}
	logger   zerolog.Logger
}

// NewStreamingService cria uma nova instância de StreamingService.
func NewStreamingService(l *ledger.Ledger, reg *registry.Registry, gate ComplianceGate, admins []string, logger zerolog.Logger) *StreamingService {
	set := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		set[a] = struct{}{}
	}
	return &StreamingService{
		Ledger:   l,
		Registry: reg,
		Gate:     gate,
		admins:   set,
		logger:   logger.With().Str("component", "streaming").Logger(),
	}
}

// IsAdmin informa se o principal pode usar as operações administrativas.
func (s *StreamingService) IsAdmin(principal string) bool {
	_, ok := s.admins[principal]
	return ok
}

// CreateStream abre um stream avulso. Sender e recipient passam pelo compliance.
func (s *StreamingService) CreateStream(ctx context.Context, sender, recipient string, totalAmount, duration int64) (models.Stream, error) {
	if err := checkAll(ctx, s.Gate, models.AssetTypeGeneric, sender, recipient); err != nil {
		s.logger.Info().Err(err).Str("sender", sender).Str("recipient", recipient).Msg("criação de stream bloqueada")
		return models.Stream{}, err
	}
	return s.Ledger.Create(ctx, sender, recipient, totalAmount, duration)
}

// Claim saca o acumulado para o recipient.
func (s *StreamingService) Claim(ctx context.Context, streamID uint64, caller string) (ledger.Receipt, error) {
	if _, err := s.Ledger.Get(streamID); err != nil {
		return ledger.Receipt{}, err
	}
	if err := checkAll(ctx, s.Gate, s.assetTypeOf(streamID), caller); err != nil {
		return ledger.Receipt{}, err
	}
	return s.Ledger.Claim(ctx, streamID, caller)
}

// Cancel liquida o stream. As duas partes recebem valores, então ambas passam pelo compliance.
func (s *StreamingService) Cancel(ctx context.Context, streamID uint64, caller string) (ledger.Receipt, error) {
	stream, err := s.Ledger.Get(streamID)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if err := checkAll(ctx, s.Gate, s.assetTypeOf(streamID), stream.Sender, stream.Recipient); err != nil {
		return ledger.Receipt{}, err
	}
	return s.Ledger.Cancel(ctx, streamID, caller)
}

// FlashAdvance adianta parte do acúmulo futuro ao recipient.
func (s *StreamingService) FlashAdvance(ctx context.Context, streamID uint64, caller string, amount int64) (ledger.Receipt, error) {
	if _, err := s.Ledger.Get(streamID); err != nil {
		return ledger.Receipt{}, err
	}
	if err := checkAll(ctx, s.Gate, s.assetTypeOf(streamID), caller); err != nil {
		return ledger.Receipt{}, err
	}
	return s.Ledger.FlashAdvance(ctx, streamID, caller, amount)
}

// RegisterYieldStream vincula o stream de rendimento ao ativo. Só o sender do stream
// (o emissor do ativo) pode fazer o vínculo.
func (s *StreamingService) RegisterYieldStream(ctx context.Context, caller, assetID string, streamID uint64, assetType, metadataURI string) (models.TokenIndexEntry, error) {
	stream, err := s.Ledger.Get(streamID)
	if err != nil {
		return models.TokenIndexEntry{}, err
	}
	if caller != stream.Sender && !s.IsAdmin(caller) {
		return models.TokenIndexEntry{}, fmt.Errorf("%w: apenas o emissor do stream pode vinculá-lo", ledger.ErrUnauthorized)
	}
	if assetType == "" {
		assetType = models.AssetTypeGeneric
	}
	if err := checkAll(ctx, s.Gate, assetType, stream.Recipient); err != nil {
		return models.TokenIndexEntry{}, err
	}
	return s.Registry.RegisterYieldStream(ctx, assetID, streamID, assetType, metadataURI)
}

// StartRental abre o stream de aluguel do inquilino para o dono atual.
func (s *StreamingService) StartRental(ctx context.Context, assetID, tenant string, paymentAmount, duration int64) (models.TokenIndexEntry, models.Stream, error) {
	entry, err := s.Registry.Get(assetID)
	if err != nil {
		return models.TokenIndexEntry{}, models.Stream{}, err
	}
	if err := checkAll(ctx, s.Gate, entry.AssetType, tenant, entry.Owner); err != nil {
		s.logger.Info().Err(err).Str("asset_id", assetID).Str("tenant", tenant).Msg("aluguel bloqueado")
		return models.TokenIndexEntry{}, models.Stream{}, err
	}
	return s.Registry.StartRental(ctx, assetID, tenant, paymentAmount, duration)
}

// EndRental encerra o aluguel corrente do ativo.
func (s *StreamingService) EndRental(ctx context.Context, assetID, caller string) (ledger.Receipt, error) {
	entry, err := s.Registry.Get(assetID)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if entry.RentalStreamID == nil {
		return ledger.Receipt{}, fmt.Errorf("%w: %s", registry.ErrNoActiveRental, assetID)
	}
	stream, err := s.Ledger.Get(*entry.RentalStreamID)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if err := checkAll(ctx, s.Gate, entry.AssetType, stream.Sender, stream.Recipient); err != nil {
		return ledger.Receipt{}, err
	}
	return s.Registry.EndRental(ctx, assetID, caller)
}

// TransferOwnership troca o dono do ativo. Chamado pelo dono atual ou por um admin.
func (s *StreamingService) TransferOwnership(ctx context.Context, caller, assetID, newOwner string) (models.TokenIndexEntry, error) {
	entry, err := s.Registry.Get(assetID)
	if err != nil {
		return models.TokenIndexEntry{}, err
	}
	if caller != entry.Owner && !s.IsAdmin(caller) {
		return models.TokenIndexEntry{}, fmt.Errorf("%w: apenas o dono pode transferir o ativo", ledger.ErrUnauthorized)
	}
	if err := checkAll(ctx, s.Gate, entry.AssetType, newOwner); err != nil {
		return models.TokenIndexEntry{}, err
	}
	return s.Registry.TransferOwnership(ctx, assetID, newOwner)
}

// Freeze congela o stream (compliance, disputa). Apenas admins.
func (s *StreamingService) Freeze(ctx context.Context, caller string, streamID uint64, reason string) (models.Stream, error) {
	if err := s.requireAdmin(caller); err != nil {
		return models.Stream{}, err
	}
	return s.Ledger.Freeze(ctx, streamID, reason)
}

// Unfreeze reativa um stream congelado. Apenas admins.
func (s *StreamingService) Unfreeze(ctx context.Context, caller string, streamID uint64) (models.Stream, error) {
	if err := s.requireAdmin(caller); err != nil {
		return models.Stream{}, err
	}
	return s.Ledger.Unfreeze(ctx, streamID)
}

// Terminate liquida um stream ativo ou congelado por decisão administrativa.
// Não consulta o compliance: é a saída para streams bloqueados por ele.
func (s *StreamingService) Terminate(ctx context.Context, caller string, streamID uint64, reason string) (ledger.Receipt, error) {
	if err := s.requireAdmin(caller); err != nil {
		return ledger.Receipt{}, err
	}
	return s.Ledger.Terminate(ctx, streamID, reason)
}

func (s *StreamingService) GetStreamInfo(streamID uint64) (models.Stream, error) {
	return s.Ledger.Get(streamID)
}

func (s *StreamingService) GetStreamStatus(streamID uint64) (models.StreamStatusView, error) {
	return s.Ledger.Status(streamID)
}

func (s *StreamingService) GetAsset(assetID string) (models.TokenIndexEntry, error) {
	return s.Registry.Get(assetID)
}

func (s *StreamingService) GetActiveRental(assetID string) (bool, uint64) {
	return s.Registry.GetActiveRental(assetID)
}

func (s *StreamingService) CheckAccess(streamID uint64, assetID string) bool {
	return s.Registry.CheckAccess(streamID, assetID)
}

func (s *StreamingService) requireAdmin(caller string) error {
	if !s.IsAdmin(caller) {
		return fmt.Errorf("%w: operação administrativa", ledger.ErrUnauthorized)
	}
	return nil
}

func (s *StreamingService) assetTypeOf(streamID uint64) string {
	if entry, ok := s.Registry.AssetForStream(streamID); ok && entry.AssetType != "" {
		return entry.AssetType
	}
	return models.AssetTypeGeneric
}
