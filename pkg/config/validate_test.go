package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usenetsync/usenetsync/pkg/nntp"
)

func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.NNTP.Servers = []nntp.ServerConfig{{
		Host:           "news.example.com",
		Port:           119,
		PostingGroup:   "alt.binaries.test",
		MaxConnections: 4,
	}}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "VERBOSE"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Logging.Level")
}

func TestValidate_InvalidStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.NNTP.Strategy = "fastest"
	assert.Error(t, Validate(cfg))
}

func TestValidate_ServerMissingGroup(t *testing.T) {
	cfg := validConfig()
	cfg.NNTP.Servers[0].PostingGroup = ""
	assert.Error(t, Validate(cfg))
}

func TestValidate_DuplicateServers(t *testing.T) {
	cfg := validConfig()
	cfg.NNTP.Servers = append(cfg.NNTP.Servers, cfg.NNTP.Servers[0])
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate server")
}

func TestValidate_RetryDelayOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.Retry.InitialDelayS = 120
	cfg.Retry.MaxDelayS = 60
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_delay_s")
}

func TestValidate_BadSegmentSize(t *testing.T) {
	cfg := validConfig()
	cfg.Segment.SizeBytes = 10
	assert.Error(t, Validate(cfg))
}

func TestValidate_BadAPIPort(t *testing.T) {
	cfg := validConfig()
	cfg.API.Port = 70000
	assert.Error(t, Validate(cfg))
}

func TestValidate_DatabaseMissingPath(t *testing.T) {
	cfg := validConfig()
	cfg.Database.SQLite.Path = ""
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database")
}
