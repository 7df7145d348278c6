package config

import "github.com/caarlos0/env/v11"

type ServerConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	MaxPlayersPerRoom int `env:"MAX_PLAYERS_PER_ROOM" envDefault:"4"`
	CountdownFrom     int `env:"COUNTDOWN_FROM" envDefault:"3"`

	PingPeriodSec       int `env:"PING_PERIOD_SEC" envDefault:"30"`
	HeartbeatTimeoutSec int `env:"HEARTBEAT_TIMEOUT_SEC" envDefault:"60"`
	ReapPeriodSec       int `env:"REAP_PERIOD_SEC" envDefault:"60"`
	RoomGraceSec        int `env:"ROOM_GRACE_SEC" envDefault:"300"`

	WSSendBuffer      int   `env:"WS_SEND_BUFFER" envDefault:"64"`
	WSMaxMessageBytes int64 `env:"WS_MAX_MESSAGE_BYTES" envDefault:"4096"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	err := env.Parse(&cfg)
	return cfg, err
}
