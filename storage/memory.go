package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ferreirogomes/tiquin-streams/models"
)

// ErrNotFound é retornado quando um registro pedido não existe.
var ErrNotFound = errors.New("registro não encontrado")

// MemoryStore guarda streams, transfers e o índice de ativos em memória.
// Usado em desenvolvimento (sem DATABASE_URL) e nos testes.
type MemoryStore struct {
	mu        sync.RWMutex
	streams   map[uint64]models.Stream
	transfers map[string]models.Transfer
	order     []string // ids de transfer em ordem de inserção
	assets    map[string]models.TokenIndexEntry
}

// NewMemoryStore cria um store vazio.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:   make(map[uint64]models.Stream),
		transfers: make(map[string]models.Transfer),
		assets:    make(map[string]models.TokenIndexEntry),
	}
}

func (m *MemoryStore) SaveStream(ctx context.Context, stream models.Stream, transfers []models.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range transfers {
		if _, exists := m.transfers[t.ID]; exists {
			return fmt.Errorf("transfer %s duplicado", t.ID)
		}
	}
	m.streams[stream.ID] = stream
	for _, t := range transfers {
		m.transfers[t.ID] = t
		m.order = append(m.order, t.ID)
	}
	return nil
}

func (m *MemoryStore) ListStreams(ctx context.Context) ([]models.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Stream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveAsset(ctx context.Context, entry models.TokenIndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[entry.AssetID] = entry.Clone()
	return nil
}

func (m *MemoryStore) ListAssets(ctx context.Context) ([]models.TokenIndexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.TokenIndexEntry, 0, len(m.assets))
	for _, e := range m.assets {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (m *MemoryStore) TransfersByStatus(ctx context.Context, status models.TransferStatus, limit int) ([]models.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Transfer
	for _, id := range m.order {
		if t := m.transfers[id]; t.Status == status {
			out = append(out, t)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) TransfersByStream(ctx context.Context, streamID uint64) ([]models.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Transfer
	for _, id := range m.order {
		if t := m.transfers[id]; t.StreamID == streamID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateTransfer(ctx context.Context, t models.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.transfers[t.ID]
	if !ok {
		return fmt.Errorf("%w: transfer %s", ErrNotFound, t.ID)
	}
	current.Status = t.Status
	current.Signature = t.Signature
	current.Attempts = t.Attempts
	current.LastError = t.LastError
	current.UpdatedAt = t.UpdatedAt
	m.transfers[t.ID] = current
	return nil
}
