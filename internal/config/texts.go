package config

import "github.com/caarlos0/env/v11"

// TextsConfig selects the reference text source. An empty DSN means the
// built-in corpus.
type TextsConfig struct {
	PostgresDSN string `env:"TEXTS_POSTGRES_DSN"`
}

func LoadTexts() (TextsConfig, error) {
	var cfg TextsConfig
	err := env.Parse(&cfg)
	return cfg, err
}
