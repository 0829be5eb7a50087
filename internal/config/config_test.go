package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsApplyWithoutEnv(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 30*time.Second, cfg.AcceptTimeout)
	require.Equal(t, 5000.0, cfg.MatchMaxDistanceM)
	require.Equal(t, "driver-locations", cfg.KafkaTopic)
}

func TestEnvOverridesAndJoinErrors(t *testing.T) {
	t.Setenv("TRIP_ACCEPT_TIMEOUT", "45s")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,")
	t.Setenv("MATCH_LIMIT", "not-a-number")

	cfg, err := LoadServerConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "MATCH_LIMIT")
	require.Equal(t, 45*time.Second, cfg.AcceptTimeout)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}
