package models

import "time"

// TransferKind indica a origem contábil de um pagamento.
type TransferKind string

const (
	TransferClaim      TransferKind = "claim"      // saque ordinário do acumulado
	TransferAdvance    TransferKind = "advance"    // flash advance contra acúmulo futuro
	TransferSettlement TransferKind = "settlement" // liquidação final ao Recipient no cancelamento
	TransferRefund     TransferKind = "refund"     // devolução ao Sender no cancelamento
)

// TransferStatus acompanha a entrega on-chain de um Transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferSubmitted TransferStatus = "submitted"
	TransferConfirmed TransferStatus = "confirmed"
	TransferFailed    TransferStatus = "failed"
)

// Transfer é um pagamento já contabilizado pelo ledger e aguardando (ou já com)
// entrega na blockchain. É gravado junto com a mutação do stream que o originou.
type Transfer struct {
	ID          string         `json:"id" db:"id"`
	StreamID    uint64         `json:"stream_id" db:"stream_id"`
	Kind        TransferKind   `json:"kind" db:"kind"`
	Beneficiary string         `json:"beneficiary" db:"beneficiary"`
	Amount      int64          `json:"amount" db:"amount"`
	Status      TransferStatus `json:"status" db:"status"`
	Signature   string         `json:"signature,omitempty" db:"signature"`
	Attempts    int            `json:"attempts" db:"attempts"`
	LastError   string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}
