package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkerDefaults(t *testing.T) {
	cfg, err := LoadWorker()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, time.Second, cfg.BackoffBase)
	assert.Equal(t, time.Minute, cfg.BackoffCeiling)
	assert.Equal(t, "orders.work", cfg.WorkQueue)
	assert.Equal(t, 2*time.Minute, cfg.ClaimLease)
}

func TestLoadWorkerOverrides(t *testing.T) {
	t.Setenv("WORKER_MAX_ATTEMPTS", "5")
	t.Setenv("WORKER_BACKOFF_BASE", "200ms")
	t.Setenv("WORKER_BACKOFF_CEILING", "10s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := LoadWorker()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.BackoffBase)
	assert.Equal(t, 10*time.Second, cfg.BackoffCeiling)
	assert.Equal(t, "kafka-1:9092,kafka-2:9092", cfg.KafkaBrokers)
}

func TestLoadWorkerRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero attempts", "WORKER_MAX_ATTEMPTS", "0"},
		{"bad int", "WORKER_CONCURRENCY", "many"},
		{"bad duration", "WORKER_BACKOFF_BASE", "soon"},
		{"base above ceiling", "WORKER_BACKOFF_BASE", "2m"},
		{"claim shorter than payment call", "WORKER_CLAIM_LEASE", "3s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadWorker()
			assert.Error(t, err)
		})
	}
}

func TestLoadAPI(t *testing.T) {
	t.Setenv("OUTBOX_GRACE", "30s")

	cfg, err := LoadAPI()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.OutboxGrace)
	assert.Equal(t, "orders.status", cfg.StatusExchange)
	assert.Empty(t, cfg.StatusQueue)

	t.Setenv("OUTBOX_BATCH", "0")
	_, err = LoadAPI()
	assert.Error(t, err)
}

func TestLoadAPIRejectsNonPositiveOutboxInterval(t *testing.T) {
	for _, v := range []string{"0", "0s", "-1s"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("OUTBOX_INTERVAL", v)
			_, err := LoadAPI()
			assert.ErrorContains(t, err, "OUTBOX_INTERVAL")
		})
	}
}

func TestLoadSearchRequiresURL(t *testing.T) {
	t.Setenv("SEARCH_URL", "")
	_, err := LoadSearch()
	require.Error(t, err)

	t.Setenv("SEARCH_URL", "https://search.example.com")
	cfg, err := LoadSearch()
	require.NoError(t, err)
	assert.Equal(t, "https://search.example.com", cfg.URL)
}
