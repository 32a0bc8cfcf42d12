package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	MarkBox  MarkBoxConfig  `yaml:"markbox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	AuditTopicName        string `yaml:"audit_topic_name"`
	MarkRedeemedTopicName string `yaml:"mark_redeemed_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type MarkBoxConfig struct {
	// Формат кода: prefix + GTIN + separator + 16 случайных символов.
	CodePrefix    string `yaml:"code_prefix"`
	CodeSeparator string `yaml:"code_separator"`

	// Бэкенд кэша: "redis" | "memory".
	CacheBackend    string `yaml:"cache_backend"`
	MemoryCacheSize int    `yaml:"memory_cache_size"`

	MarkTTLSeconds       int `yaml:"mark_ttl_seconds"`
	ValidationTTLSeconds int `yaml:"validation_ttl_seconds"`

	CacheTimeoutMillis  int `yaml:"cache_timeout_millis"`
	StoreTimeoutSeconds int `yaml:"store_timeout_seconds"`

	BulkChunkSize int `yaml:"bulk_chunk_size"`

	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	SweepBatchLimit      int `yaml:"sweep_batch_limit"`

	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	WorkerHTTPAddr     string `yaml:"worker_http_addr"`

	// Внешний рендерер QR-кодов. Пусто — используется локальная заглушка.
	QRRendererBaseURL string `yaml:"qr_renderer_base_url"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
