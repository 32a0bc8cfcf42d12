package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  audit_topic_name: "mark.audit"
  mark_redeemed_topic_name: "mark.redeemed"
redis:
  host: "localhost"
  port: 6379
markbox:
  code_prefix: "MB"
  code_separator: "-"
  cache_backend: "redis"
  mark_ttl_seconds: 3600
  validation_ttl_seconds: 300
  bulk_chunk_size: 100
  sweep_interval_seconds: 86400
  worker_http_addr: ":8082"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "mark.audit", cfg.Kafka.AuditTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, "MB", cfg.MarkBox.CodePrefix)
	require.Equal(t, 3600, cfg.MarkBox.MarkTTLSeconds)
	require.Equal(t, ":8082", cfg.MarkBox.WorkerHTTPAddr)
}

func TestLoadConfig_missingFile(t *testing.T) {
	_, err := LoadConfig("/no/such/config.yaml")
	require.Error(t, err)
}
