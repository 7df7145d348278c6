package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"keyrush/internal/client"
	"keyrush/internal/config"
	"keyrush/internal/logging"
	"keyrush/internal/protocol"
)

// race-bot joins a room, readies up and types the reference text at a fixed
// pace. Useful as a sparring partner and as a smoke test against a live
// server.
func main() {
	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	logging.Init(logCfg)
	cfg, err := config.LoadBot()
	if err != nil {
		log.Fatal().Err(err).Msg("load bot config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(client.Options{
		URL:    cfg.WSURL,
		Room:   cfg.Room,
		Player: cfg.PlayerID,
		Name:   cfg.Name,
	})
	if err := c.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}
	defer c.Leave()

	if err := c.SetReady(true); err != nil {
		log.Fatal().Err(err).Msg("ready failed")
	}
	log.Info().Str("room", cfg.Room).Str("player", cfg.PlayerID).Msg("waiting for race")

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.Events():
			if !ok {
				log.Info().Msg("connection ended")
				return
			}
			switch ev := ev.(type) {
			case protocol.CountdownSync:
				log.Info().Int("phase", ev.Phase).Msg("countdown")
			case protocol.GameStart:
				typeText(ctx, c, rnd, cfg, ev.Text)
			case protocol.PlayerFinished:
				log.Info().Str("player", ev.PlayerID).Float64("wpm", ev.WPM).Msg("finished")
			}
		}
	}
}

// typeText replays the text word by word. Each word lands in one update, the
// way a very even typist would finish it, with the pace set by BOT_WPM.
func typeText(ctx context.Context, c *client.Client, rnd *rand.Rand, cfg config.BotConfig, text string) {
	words := strings.Fields(text)
	perWord := time.Minute / time.Duration(cfg.WordsPerMin)
	for i, word := range words {
		select {
		case <-ctx.Done():
			return
		case <-time.After(perWord):
		}
		typed := word
		if cfg.ErrorRate > 0 && rnd.Float64() < cfg.ErrorRate {
			typed = mangle(rnd, word)
		}
		if _, err := c.HandleTyping(typed, i); err != nil {
			log.Error().Err(err).Msg("typing failed")
			return
		}
	}
	log.Info().Int("words", len(words)).Msg("text done")
}

func mangle(rnd *rand.Rand, word string) string {
	if word == "" {
		return word
	}
	b := []byte(word)
	b[rnd.Intn(len(b))] = byte('a' + rnd.Intn(26))
	return string(b)
}
