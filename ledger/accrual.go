package ledger

import "github.com/ferreirogomes/tiquin-streams/models"

// Accrued retorna quanto o stream acumulou até `now` (segundos Unix).
//
//	elapsed = clamp(now - StartTime, 0, duração)
//	accrued = elapsed * FlowRate
//
// No fim do stream o acumulado é o TotalAmount, de modo que o resto da divisão
// inteira TotalAmount/duração é pago junto com o último saque.
func Accrued(s models.Stream, now int64) int64 {
	elapsed := now - s.StartTime
	if elapsed <= 0 {
		return 0
	}
	if elapsed >= s.Duration() {
		return s.TotalAmount
	}
	return elapsed * s.FlowRate
}

// Claimable é max(accrued - AmountWithdrawn, 0). Fica em zero enquanto o acúmulo
// não alcança um flash advance; não existe flag de pausa.
func Claimable(s models.Stream, now int64) int64 {
	if s.Status == models.StreamCancelled {
		return 0
	}
	if c := Accrued(s, now) - s.AmountWithdrawn; c > 0 {
		return c
	}
	return 0
}

// EscrowBalance é o máximo que o stream ainda pode pagar.
func EscrowBalance(s models.Stream) int64 {
	return s.TotalAmount - s.AmountWithdrawn - s.AmountRefunded
}

// Remaining é a parte do total ainda não acumulada.
func Remaining(s models.Stream, now int64) int64 {
	if s.Status == models.StreamCancelled {
		return 0
	}
	return s.TotalAmount - Accrued(s, now)
}

// BudgetExhausted indica expiração natural: tudo já acumulou ou não resta nada em custódia.
func BudgetExhausted(s models.Stream, now int64) bool {
	return Accrued(s, now) >= s.TotalAmount || EscrowBalance(s) <= 0
}

// View monta a visão getStreamStatus de um stream em `now`.
func View(s models.Stream, now int64) models.StreamStatusView {
	accrued := Accrued(s, now)
	if s.Status == models.StreamCancelled {
		accrued = s.AmountWithdrawn
	}
	return models.StreamStatusView{
		StreamID:      s.ID,
		Status:        s.Status,
		Accrued:       accrued,
		Claimable:     Claimable(s, now),
		EscrowBalance: EscrowBalance(s),
		Remaining:     Remaining(s, now),
		IsActive:      s.Status == models.StreamActive,
		IsFrozen:      s.Status == models.StreamFrozen,
		AsOf:          now,
	}
}
