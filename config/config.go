// Package config загружает конфигурацию клиента сабграфов из YAML-файла.
// Значения вида ${VAR} и ${VAR:-default} подставляются из окружения,
// которое может быть дополнено .env-файлами.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/x-research-team/dtx-subgraph/bus/query"
	"github.com/x-research-team/dtx-subgraph/graphql"
	"github.com/x-research-team/dtx-subgraph/subgraph"
)

// Config — конфигурация клиента сабграфов.
type Config struct {
	LogLevel          string             `yaml:"log_level"`
	HTTP              HTTPConfig         `yaml:"http"`
	Cache             CacheConfig        `yaml:"cache"`
	Deployments       []DeploymentConfig `yaml:"deployments"`
	DefaultDeployment string             `yaml:"default_deployment"`
}

// HTTPConfig — параметры GraphQL-транспорта.
type HTTPConfig struct {
	Timeout          time.Duration     `yaml:"timeout"`
	MaxResponseBytes int64             `yaml:"max_response_bytes"`
	Headers          map[string]string `yaml:"headers"`
}

// CacheConfig — параметры кеша запросов.
type CacheConfig struct {
	StaleTime     time.Duration `yaml:"stale_time"`
	GCTime        time.Duration `yaml:"gc_time"`
	GCInterval    time.Duration `yaml:"gc_interval"`
	Retry         int           `yaml:"retry"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
}

// DeploymentConfig — одно развертывание сабграфа.
type DeploymentConfig struct {
	Name    string `yaml:"name"`
	ChainID int64  `yaml:"chain_id"`
	URL     string `yaml:"url"`
}

// Default возвращает конфигурацию со значениями по умолчанию без развертываний.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Timeout:          30 * time.Second,
			MaxResponseBytes: 32 << 20,
		},
		Cache: CacheConfig{
			StaleTime:     query.DefaultStaleTime,
			GCTime:        query.DefaultGCTime,
			RetryDelay:    query.DefaultRetryDelay,
			MaxRetryDelay: query.DefaultMaxRetryDelay,
		},
	}
}

// Load читает конфигурацию из файла path. Перед разбором загружаются
// envFiles, а если они не заданы, то .env из каталога конфигурации, если он есть.
// Переменные процесса имеют приоритет над значениями из .env.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		candidate := filepath.Join(filepath.Dir(path), ".env")
		if _, err := os.Stat(candidate); err == nil {
			envFiles = append(envFiles, candidate)
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("не удалось загрузить переменные окружения: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать конфигурацию: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("конфигурация %s: %w", path, err)
	}
	return cfg, nil
}

// Parse разбирает конфигурацию из data, подставляя переменные окружения.
func Parse(data []byte) (*Config, error) {
	expanded := os.Expand(string(data), lookupEnv)

	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("не удалось разобрать YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет конфигурацию. Ошибка содержит имя поля.
func (c *Config) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s", field, fmt.Sprintf(format, args...)))
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		fail("log_level", "%v", err)
	}
	if c.HTTP.Timeout < 0 {
		fail("http.timeout", "значение не может быть отрицательным")
	}
	if c.HTTP.MaxResponseBytes < 0 {
		fail("http.max_response_bytes", "значение не может быть отрицательным")
	}
	if c.Cache.StaleTime < 0 {
		fail("cache.stale_time", "значение не может быть отрицательным")
	}
	if c.Cache.GCTime < 0 {
		fail("cache.gc_time", "значение не может быть отрицательным")
	}
	if c.Cache.Retry < 0 {
		fail("cache.retry", "значение не может быть отрицательным")
	}
	if c.Cache.MaxRetryDelay > 0 && c.Cache.RetryDelay > c.Cache.MaxRetryDelay {
		fail("cache.retry_delay", "превышает cache.max_retry_delay")
	}

	if len(c.Deployments) == 0 {
		fail("deployments", "не задано ни одного развертывания")
	}
	names := make(map[string]bool, len(c.Deployments))
	for i, d := range c.Deployments {
		prefix := fmt.Sprintf("deployments[%d]", i)
		if d.Name == "" {
			fail(prefix+".name", "обязательное поле")
		}
		if d.ChainID <= 0 {
			fail(prefix+".chain_id", "должен быть положительным")
		}
		if u, err := url.Parse(d.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			fail(prefix+".url", "некорректный адрес %q", d.URL)
		}
		names[d.Name] = true
	}
	if c.DefaultDeployment != "" && !names[c.DefaultDeployment] {
		fail("default_deployment", "развертывание '%s' не описано в deployments", c.DefaultDeployment)
	}

	return errors.Join(errs...)
}

// Level возвращает уровень логирования.
func (c *Config) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

// SubgraphDeployments возвращает развертывания для subgraph.NewClient.
func (c *Config) SubgraphDeployments() []subgraph.Deployment {
	out := make([]subgraph.Deployment, len(c.Deployments))
	for i, d := range c.Deployments {
		out[i] = subgraph.Deployment{Name: d.Name, ChainID: d.ChainID, URL: d.URL}
	}
	return out
}

// FetchOptions возвращает параметры запросов по умолчанию.
func (c *Config) FetchOptions() []query.FetchOption {
	return []query.FetchOption{
		query.WithStaleTime(c.Cache.StaleTime),
		query.WithRetry(c.Cache.Retry),
		query.WithRetryDelay(c.Cache.RetryDelay),
		query.WithMaxRetryDelay(c.Cache.MaxRetryDelay),
	}
}

// CacheOptions возвращает опции кеша запросов.
func (c *Config) CacheOptions() []query.CacheOption {
	return []query.CacheOption{
		query.WithDefaults(c.FetchOptions()...),
		query.WithGCTime(c.Cache.GCTime),
		query.WithGCInterval(c.Cache.GCInterval),
	}
}

// GraphQLOptions возвращает опции GraphQL-транспорта.
func (c *Config) GraphQLOptions() []graphql.Option {
	opts := []graphql.Option{
		graphql.WithTimeout(c.HTTP.Timeout),
		graphql.WithMaxResponseBytes(c.HTTP.MaxResponseBytes),
	}
	if len(c.HTTP.Headers) > 0 {
		opts = append(opts, graphql.WithHeaders(c.HTTP.Headers))
	}
	return opts
}

// ClientOptions возвращает опции subgraph.NewClient, описанные конфигурацией.
func (c *Config) ClientOptions() []subgraph.Option {
	return []subgraph.Option{
		subgraph.WithCacheOptions(c.CacheOptions()...),
		subgraph.WithGraphQLOptions(c.GraphQLOptions()...),
		subgraph.WithDefaultDeployment(c.DefaultDeployment),
	}
}

// lookupEnv поддерживает значение по умолчанию в форме ${VAR:-default}.
func lookupEnv(name string) string {
	key, def, hasDefault := strings.Cut(name, ":-")
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	if hasDefault {
		return def
	}
	return ""
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("неизвестный уровень логирования %q", s)
	}
	return level, nil
}
