package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ferreirogomes/tiquin-streams/models"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidBeneficiary: o principal não é uma chave pública Solana. Repetir não resolve.
	ErrInvalidBeneficiary = errors.New("beneficiário não é uma chave pública Solana")
	// ErrTransactionFailed: a transação foi incluída mas falhou on-chain.
	ErrTransactionFailed = errors.New("transação falhou na Solana")
)

// Settler entrega on-chain os pagamentos registrados pelo ledger.
type Settler interface {
	// Settle envia o transfer e retorna a assinatura da transação.
	Settle(ctx context.Context, t models.Transfer) (string, error)
	// Confirm informa se a transação já está finalizada. ErrTransactionFailed se falhou.
	Confirm(ctx context.Context, signature string) (bool, error)
}

// solanaRPC é o subconjunto do rpc.Client usado na liquidação.
type solanaRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// SolanaSettlementService transfere tokens SPL da conta cofre (escrow) para a ATA do beneficiário.
// O cofre assina e paga as taxas.
type SolanaSettlementService struct {
	RPCClient solanaRPC
	Vault     solana.PrivateKey
	Mint      solana.PublicKey
	vaultATA  solana.PublicKey
	logger    zerolog.Logger
}

// NewSolanaSettlementService conecta ao RPC e resolve a ATA do cofre para o mint configurado.
func NewSolanaSettlementService(rpcURL, vaultPrivateKeyBase58, mintBase58 string, logger zerolog.Logger) (*SolanaSettlementService, error) {
	vault, err := solana.PrivateKeyFromBase58(vaultPrivateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("falha ao carregar chave privada do cofre: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(mintBase58)
	if err != nil {
		return nil, fmt.Errorf("endereço de Mint inválido: %w", err)
	}
	return newSolanaSettlementService(rpc.New(rpcURL), vault, mint, logger)
}

func newSolanaSettlementService(client solanaRPC, vault solana.PrivateKey, mint solana.PublicKey, logger zerolog.Logger) (*SolanaSettlementService, error) {
	vaultATA, _, err := solana.FindAssociatedTokenAddress(vault.PublicKey(), mint)
	if err != nil {
		return nil, fmt.Errorf("falha ao encontrar ATA do cofre: %w", err)
	}
	return &SolanaSettlementService{
		RPCClient: client,
		Vault:     vault,
		Mint:      mint,
		vaultATA:  vaultATA,
		logger:    logger.With().Str("component", "settlement").Str("vault", vault.PublicKey().String()).Logger(),
	}, nil
}

// Settle monta, assina e envia a transferência SPL de um transfer do ledger.
func (s *SolanaSettlementService) Settle(ctx context.Context, t models.Transfer) (string, error) {
	if t.Amount <= 0 {
		return "", fmt.Errorf("transfer %s com quantia %d", t.ID, t.Amount)
	}
	owner, err := solana.PublicKeyFromBase58(t.Beneficiary)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidBeneficiary, t.Beneficiary)
	}
	toATA, _, err := solana.FindAssociatedTokenAddress(owner, s.Mint)
	if err != nil {
		return "", fmt.Errorf("falha ao encontrar ATA do beneficiário: %w", err)
	}

	resp, err := s.RPCClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("falha ao obter blockhash: %w", err)
	}

	transferInstruction := token.NewTransferInstruction(
		uint64(t.Amount),
		s.vaultATA,
		toATA,
		s.Vault.PublicKey(),
		nil,
	).Build()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{transferInstruction},
		resp.Value.Blockhash,
		solana.TransactionPayer(s.Vault.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("falha ao criar transação de transferência: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.Vault.PublicKey()) {
			return &s.Vault
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("falha ao assinar transação pelo cofre: %w", err)
	}

	sig, err := s.RPCClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("falha ao enviar transação: %w", err)
	}

	s.logger.Info().
		Str("transfer_id", t.ID).
		Uint64("stream_id", t.StreamID).
		Str("beneficiary", t.Beneficiary).
		Int64("amount", t.Amount).
		Str("signature", sig.String()).
		Msg("transferência enviada")
	return sig.String(), nil
}

// Confirm consulta o status da assinatura.
func (s *SolanaSettlementService) Confirm(ctx context.Context, signature string) (bool, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return false, fmt.Errorf("assinatura inválida %q: %w", signature, err)
	}
	out, err := s.RPCClient.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, fmt.Errorf("falha ao consultar status da transação %s: %w", signature, err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		// ainda não vista pelo nó
		return false, nil
	}
	status := out.Value[0]
	if status.Err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrTransactionFailed, signature, status.Err)
	}
	return status.ConfirmationStatus == rpc.ConfirmationStatusFinalized, nil
}

// NoopSettler confirma tudo na hora. Usado quando a Solana não está configurada.
type NoopSettler struct{}

func (NoopSettler) Settle(ctx context.Context, t models.Transfer) (string, error) {
	return "offchain-" + t.ID, nil
}

func (NoopSettler) Confirm(ctx context.Context, signature string) (bool, error) {
	return true, nil
}
