// Package config builds the crawler configuration from disk and
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/docfoundry/docscraper/internal/crawler"
)

// ServerConfig controls the optional status HTTP server.
type ServerConfig struct {
	Enabled bool
	Port    int
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool
}

// PubSubConfig enables per-page event publishing when a project is set.
type PubSubConfig struct {
	ProjectID string
	TopicName string
}

// Load builds the full configuration: crawler settings plus the ambient
// server, logging, and pub/sub sections. An empty path searches the usual
// locations for docscraper.yaml.
func Load(path string) (crawler.Config, ServerConfig, LoggingConfig, PubSubConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCSCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return crawler.Config{}, ServerConfig{}, LoggingConfig{}, PubSubConfig{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("docscraper")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.docscraper")
		v.AddConfigPath("/etc/docscraper")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return crawler.Config{}, ServerConfig{}, LoggingConfig{}, PubSubConfig{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg, err := crawler.LoadConfig(v)
	if err != nil {
		return crawler.Config{}, ServerConfig{}, LoggingConfig{}, PubSubConfig{}, err
	}

	srv := ServerConfig{
		Enabled: v.GetBool("server.enabled"),
		Port:    v.GetInt("server.port"),
	}
	logging := LoggingConfig{
		Development: v.GetBool("logging.development"),
	}
	ps := PubSubConfig{
		ProjectID: v.GetString("pubsub.project_id"),
		TopicName: v.GetString("pubsub.topic_name"),
	}
	return cfg, srv, logging, ps, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.user_agent", "docscraper/0.1")
	v.SetDefault("crawler.strategy", "sequential")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.rate_interval", "1s")
	v.SetDefault("crawler.request_timeout", "15s")
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.max_page_bytes", 10<<20)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.output_dir", "out")
	v.SetDefault("selectors.content", "main, article, div.content")
	v.SetDefault("selectors.title", "title")
	v.SetDefault("selectors.code", "pre code, pre")
	v.SetDefault("chunking.max_tokens", 512)
	v.SetDefault("chunking.overlap_ratio", 0.1)
	v.SetDefault("chunking.preserve_code", true)
	v.SetDefault("chunking.sparse_boundary_factor", 1.0)
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.timeout", "25s")
	v.SetDefault("render.max_concurrency", 1)
	v.SetDefault("render.domain_qps", 1.0)
	v.SetDefault("checkpoint.interval", 0)
	v.SetDefault("checkpoint.backend", "file")
	v.SetDefault("checkpoint.path", "out/checkpoint.json")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}
