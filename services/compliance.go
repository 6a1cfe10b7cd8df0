package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ferreirogomes/tiquin-streams/observability"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ComplianceGate decide se um principal pode movimentar valores num tipo de ativo.
// Um erro significa que a decisão não pôde ser tomada.
type ComplianceGate interface {
	CanParticipate(ctx context.Context, principal, assetType string) (bool, error)
}

// AllowAllGate libera todo mundo. Só para desenvolvimento.
type AllowAllGate struct{}

func (AllowAllGate) CanParticipate(ctx context.Context, principal, assetType string) (bool, error) {
	return true, nil
}

// StaticGate nega uma lista fixa de principals e de tipos de ativo.
type StaticGate struct {
	deniedPrincipals map[string]struct{}
	deniedTypes      map[string]struct{}
}

func NewStaticGate(deniedPrincipals, deniedAssetTypes []string) *StaticGate {
	g := &StaticGate{
		deniedPrincipals: make(map[string]struct{}, len(deniedPrincipals)),
		deniedTypes:      make(map[string]struct{}, len(deniedAssetTypes)),
	}
	for _, p := range deniedPrincipals {
		g.deniedPrincipals[p] = struct{}{}
	}
	for _, t := range deniedAssetTypes {
		g.deniedTypes[t] = struct{}{}
	}
	return g
}

func (g *StaticGate) CanParticipate(ctx context.Context, principal, assetType string) (bool, error) {
	if _, denied := g.deniedPrincipals[principal]; denied {
		return false, nil
	}
	if _, denied := g.deniedTypes[assetType]; denied {
		return false, nil
	}
	return true, nil
}

// RemoteComplianceGate consulta o provedor externo de KYC/AML:
// GET {base}/v1/participants/{principal}?asset_type=... -> {"allowed": bool}.
// As chamadas passam por um circuit breaker e por retry limitado com backoff.
type RemoteComplianceGate struct {
	baseURL    string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	backoff    time.Duration
	logger     zerolog.Logger
}

type participantResponse struct {
	Allowed bool `json:"allowed"`
}

// errPermanent marca respostas que não adianta repetir (4xx, corpo inválido).
var errPermanent = errors.New("resposta definitiva do provedor de compliance")

func NewRemoteComplianceGate(baseURL string, timeout time.Duration, maxRetries int, logger zerolog.Logger) *RemoteComplianceGate {
	logger = logger.With().Str("component", "compliance").Logger()
	settings := gobreaker.Settings{
		Name:        "compliance",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errPermanent)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker mudou de estado")
		},
	}
	return &RemoteComplianceGate{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		maxRetries: maxRetries,
		backoff:    200 * time.Millisecond,
		logger:     logger,
	}
}

func (g *RemoteComplianceGate) CanParticipate(ctx context.Context, principal, assetType string) (bool, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(g.backoff * time.Duration(1<<(attempt-1))):
			}
		}

		res, err := g.breaker.Execute(func() (interface{}, error) {
			return g.query(ctx, principal, assetType)
		})
		if err == nil {
			return res.(bool), nil
		}
		lastErr = err
		if errors.Is(err, errPermanent) || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		g.logger.Debug().Err(err).Int("attempt", attempt+1).Str("principal", principal).Msg("consulta de compliance falhou")
	}
	return false, lastErr
}

func (g *RemoteComplianceGate) query(ctx context.Context, principal, assetType string) (bool, error) {
	endpoint := fmt.Sprintf("%s/v1/participants/%s?asset_type=%s",
		g.baseURL, url.PathEscape(principal), url.QueryEscape(assetType))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("falha ao consultar compliance: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// principal desconhecido pelo provedor não passou por KYC
		return false, nil
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("provedor de compliance respondeu %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}

	var body participantResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("%w: corpo inválido: %v", errPermanent, err)
	}
	return body.Allowed, nil
}

// checkAll consulta o gate para cada principal, na ordem dada.
func checkAll(ctx context.Context, gate ComplianceGate, assetType string, principals ...string) error {
	for _, p := range principals {
		allowed, err := gate.CanParticipate(ctx, p, assetType)
		if err != nil {
			observability.RecordCompliance("unavailable")
			return fmt.Errorf("%w: %v", ErrComplianceUnavailable, err)
		}
		if !allowed {
			observability.RecordCompliance("denied")
			return fmt.Errorf("%w: %s em %s", ErrComplianceDenied, p, assetType)
		}
	}
	observability.RecordCompliance("allowed")
	return nil
}
