package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"keyrush/internal/config"
)

var sink io.Writer = os.Stdout

// Init configures the global logger. Call once at process start, before any
// goroutine logs.
func Init(cfg config.LogConfig) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil && cfg.Level != "" {
		level = parsed
	}

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	if cfg.File != "" {
		if fw, err := newSizeCappedWriter(cfg.File, cfg.FileMaxMB); err == nil {
			output = io.MultiWriter(output, fw)
		} else {
			log.Error().Err(err).Str("path", cfg.File).Msg("log file unavailable")
		}
	}
	sink = output

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(output).With().Timestamp().Logger()
	if cfg.SampleEvery > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(cfg.SampleEvery)})
	}
	log.Logger = logger
}

// Writer exposes the configured sink so HTTP middleware can share it.
func Writer() io.Writer {
	return sink
}
