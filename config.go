package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/gamma-omg/rag-search/api"
	"github.com/gamma-omg/rag-search/chunker"
	"github.com/gamma-omg/rag-search/embedder"
	"github.com/gamma-omg/rag-search/pipeline"
	"github.com/gamma-omg/rag-search/report"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ProviderConfig struct {
	Model  string `yaml:"model" validate:"required"`
	ApiKey string `yaml:"api_key" validate:"required"`
}

type HashConfig struct {
	Dimensions int `yaml:"dimensions" validate:"gte=0"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=chroma memory"`
	ChromaAddr string `yaml:"chroma_addr" validate:"required_if=Backend chroma"`
	Collection string `yaml:"collection" validate:"required"`
}

type Config struct {
	LogFile       string                `yaml:"log"`
	LogLevel      string                `yaml:"log_level" validate:"oneof=debug info warn error"`
	DocRoot       string                `yaml:"doc_root"`
	MergeEventsMs int                   `yaml:"write_debounce_ms" validate:"gte=0"`
	ServerAddr    string                `yaml:"server_addr"`
	Store         StoreConfig           `yaml:"store"`
	Chunking      chunker.Config        `yaml:"chunking"`
	Embedding     embedder.Config       `yaml:"embedding"`
	Retry         pipeline.RetryConfig  `yaml:"retry"`
	Search        pipeline.SearchConfig `yaml:"search"`
	Limits        pipeline.Validator    `yaml:"limits"`
	Report        report.Formatter      `yaml:"report"`
	HTTP          api.Config            `yaml:"http"`
	OpenAI        *ProviderConfig       `yaml:"open_ai"`
	Gemini        *ProviderConfig       `yaml:"gemini"`
	Hash          *HashConfig           `yaml:"hash"`
}

func defaultConfig() *Config {
	cfg := &Config{
		LogLevel:      "info",
		MergeEventsMs: 500,
		Store: StoreConfig{
			Backend:    "chroma",
			ChromaAddr: "http://localhost:8000",
			Collection: "documents",
		},
		Chunking:  chunker.DefaultConfig(),
		Embedding: embedder.DefaultConfig(),
		Retry:     pipeline.DefaultRetryConfig(),
		Search:    pipeline.DefaultSearchConfig(),
		Limits:    pipeline.DefaultValidator(),
		Report:    report.DefaultFormatter(),
		HTTP:      api.DefaultConfig(),
	}

	if keys := os.Getenv("API_KEYS"); keys != "" {
		cfg.HTTP.APIKeys = splitList(keys)
	}

	return cfg
}

func splitList(s string) []string {
	var res []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}

	return res
}

// loadEnv reads variables from a .env file. A missing file is not an error.
func loadEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unable to load %s: %w", path, err)
	}

	return nil
}

// readConfig decodes the file over the defaults. ${VAR} references are
// expanded from the environment first.
func readConfig(cfgPath string) (*Config, error) {
	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open config file: %w", err)
	}

	cfg := defaultConfig()
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	err = dec.Decode(cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unable to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return err
	}

	if err := c.Chunking.Validate(); err != nil {
		return err
	}

	providers := 0
	for _, set := range []bool{c.OpenAI != nil, c.Gemini != nil, c.Hash != nil} {
		if set {
			providers++
		}
	}
	if providers != 1 {
		return errors.New("exactly one embeddings provider (open_ai, gemini or hash) must be configured")
	}

	return nil
}

func (c *Config) level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}

	return l
}
