package ledger

import (
	"errors"
	"fmt"
)

// Erros do ledger. Todos são locais e síncronos: nenhuma chamada rejeitada altera o stream.
var (
	ErrInvalidAmount    = errors.New("quantia inválida")
	ErrInvalidDuration  = errors.New("duração inválida")
	ErrInvalidPrincipal = errors.New("principal inválido")
	ErrUnauthorized     = errors.New("chamador não autorizado")
	ErrStreamNotFound   = errors.New("stream não encontrado")
	ErrStreamNotActive  = errors.New("stream não está ativo")

	// Ambos também satisfazem errors.Is(err, ErrStreamNotActive).
	ErrStreamFrozen    = fmt.Errorf("%w: stream congelado", ErrStreamNotActive)
	ErrStreamNotFrozen = fmt.Errorf("%w: stream não está congelado", ErrStreamNotActive)
)
