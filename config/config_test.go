package config

import (
	"testing"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Environment:       EnvProduction,
		DBBackend:         "sqlite",
		DBPath:            "data.db",
		CredentialSecret:  "a-real-secret",
		DispatchSecret:    "cron-secret",
		DispatchInterval:  time.Minute,
		DispatchBatchSize: 100,
		RemoteTimeout:     15 * time.Second,
		BatchTimeout:      5 * time.Minute,
		RateLimitRPM:      30,
	}
}

func TestValidateAcceptsSaneConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRequiresCredentialSecret(t *testing.T) {
	cfg := validConfig()
	cfg.CredentialSecret = ""
	assert.ErrorIs(t, cfg.Validate(), vault.ErrMissingSecret)
}

func TestValidateRejectsDefaultSecretInProduction(t *testing.T) {
	cfg := validConfig()
	cfg.CredentialSecret = vault.DevelopmentSecret
	assert.ErrorIs(t, cfg.Validate(), vault.ErrDefaultSecret)

	cfg.Environment = EnvDevelopment
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsSharedSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.DispatchSecret = cfg.CredentialSecret
	assert.Error(t, cfg.Validate())
}

func TestValidateBackends(t *testing.T) {
	cfg := validConfig()
	cfg.DBBackend = "postgres"
	assert.Error(t, cfg.Validate())

	cfg.DatabaseURL = "postgres://localhost/shelduer"
	assert.NoError(t, cfg.Validate())

	cfg.DBBackend = "mysql"
	assert.Error(t, cfg.Validate())
}

func TestValidateTimeouts(t *testing.T) {
	cfg := validConfig()
	cfg.RemoteTimeout = cfg.BatchTimeout
	assert.Error(t, cfg.Validate())
}
