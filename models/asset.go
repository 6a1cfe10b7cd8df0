package models

import "time"

// AssetTypeGeneric é usado quando um stream não pertence a nenhum ativo registrado.
const AssetTypeGeneric = "generic"

// TokenIndexEntry liga um ativo tokenizado aos seus streams: um stream de rendimento
// (yield) de longa duração e, no máximo, um stream de aluguel ativo por vez.
// Entradas nunca são removidas; o histórico de aluguéis continua consultável.
type TokenIndexEntry struct {
	AssetID        string    `json:"asset_id" db:"asset_id"`
	AssetType      string    `json:"asset_type" db:"asset_type"`
	MetadataURI    string    `json:"metadata_uri" db:"metadata_uri"`
	Owner          string    `json:"owner" db:"owner"`
	YieldStreamID  *uint64   `json:"yield_stream_id,omitempty" db:"yield_stream_id"`
	RentalStreamID *uint64   `json:"rental_stream_id,omitempty" db:"rental_stream_id"`
	RentalHistory  []uint64  `json:"rental_history" db:"-"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Clone retorna uma cópia independente da entrada (ponteiros e histórico inclusos).
func (e TokenIndexEntry) Clone() TokenIndexEntry {
	out := e
	if e.YieldStreamID != nil {
		id := *e.YieldStreamID
		out.YieldStreamID = &id
	}
	if e.RentalStreamID != nil {
		id := *e.RentalStreamID
		out.RentalStreamID = &id
	}
	out.RentalHistory = append([]uint64(nil), e.RentalHistory...)
	return out
}
