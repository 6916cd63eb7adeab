package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nilesh507/streamit/internal/client"
	"github.com/nilesh507/streamit/internal/domain"
	"github.com/nilesh507/streamit/internal/rtc"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "signaling server websocket URL")
	roomID := flag.String("room", "room1", "room to join")
	userID := flag.String("id", "", "user id (random when empty)")
	name := flag.String("name", "", "display name")
	timeout := flag.Duration("negotiation-timeout", 2*time.Minute, "per-peer negotiation timeout")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	id := *userID
	if id == "" {
		id = uuid.NewString()
	}
	user, err := domain.NewUser(domain.UserID(id), *name)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid identity")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := client.New(*serverURL, *user, domain.RoomID(*roomID), rtc.DefaultConfig(nil), *timeout)
	log.Info().Str("server", *serverURL).Str("room", *roomID).Str("id", id).Msg("connecting")
	if err := c.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("client stopped")
	}
}
