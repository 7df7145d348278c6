package config

import "github.com/caarlos0/env/v11"

type BotConfig struct {
	WSURL    string `env:"WS_URL" envDefault:"ws://localhost:8080/ws"`
	Room     string `env:"ROOM" envDefault:"LOBBY1"`
	PlayerID string `env:"PLAYER" envDefault:"bot"`
	Name     string `env:"BOT_NAME"`

	// WordsPerMin sets the bot's typing pace.
	WordsPerMin int     `env:"BOT_WPM" envDefault:"60"`
	ErrorRate   float64 `env:"BOT_ERROR_RATE" envDefault:"0"`
}

func LoadBot() (BotConfig, error) {
	var cfg BotConfig
	err := env.Parse(&cfg)
	return cfg, err
}
