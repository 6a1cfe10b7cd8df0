package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ferreirogomes/tiquin-streams/config"
	"github.com/ferreirogomes/tiquin-streams/handlers"
	"github.com/ferreirogomes/tiquin-streams/services"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandStructure(t *testing.T) {
	for _, name := range []string{"serve", "migrate"} {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, cmd.Name())
		})
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, migrateCmd.Flags().Lookup("down"))
}

func TestNewGate(t *testing.T) {
	cfg := config.Default()
	assert.IsType(t, services.AllowAllGate{}, newGate(cfg, zerolog.Nop()))

	cfg.Compliance.Mode = config.ComplianceStatic
	assert.IsType(t, &services.StaticGate{}, newGate(cfg, zerolog.Nop()))

	cfg.Compliance.Mode = config.ComplianceRemote
	cfg.Compliance.RemoteURL = "http://kyc.local"
	assert.IsType(t, &services.RemoteComplianceGate{}, newGate(cfg, zerolog.Nop()))
}

func TestNewSettlerWithoutSolana(t *testing.T) {
	settler, err := newSettler(config.Default(), zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, services.NoopSettler{}, settler)
}

func TestNewAppServesWithMemoryStore(t *testing.T) {
	cfg := config.Default()
	cfg.Admins = []string{"admin"}

	a, err := newApp(context.Background(), cfg, clock.NewMock(), zerolog.Nop())
	require.NoError(t, err)
	defer a.close()

	req := httptest.NewRequest(http.MethodPost, "/streams", strings.NewReader(`{"recipient":"bob","total_amount":1000,"duration":100}`))
	req.Header.Set(handlers.PrincipalHeader, "alice")
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusCreated, rr.Code)

	// o listener liquida o claim com o NoopSettler
	require.NoError(t, a.listener.Tick(context.Background()))
}
