package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"voicemesh/internal/app"
	"voicemesh/internal/config"
	"voicemesh/internal/core"
	"voicemesh/internal/domain"
	"voicemesh/internal/rtc"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	server := pflag.String("server", cfg.ServerURL, "rendezvous websocket URL")
	room := pflag.String("room", cfg.Room, "room to join")
	name := pflag.String("name", cfg.Name, "display name")
	muted := pflag.Bool("muted", false, "start with microphone muted")
	textOnly := pflag.Bool("text-only", false, "join without voice")
	pflag.Parse()

	self := domain.Participant{
		ID:          domain.ParticipantID(uuid.NewString()),
		DisplayName: *name,
		AvatarRef:   cfg.Avatar,
	}

	session := app.NewSession(app.Config{
		Self:      self,
		RoomID:    domain.RoomID(*room),
		ChannelID: domain.ChannelID(*room),
		VoiceRoom: !*textOnly,
		Device:    rtc.NullDevice{},
		Constraints: core.CaptureConstraints{
			EchoCancellation: cfg.Audio.EchoCancellation,
			NoiseSuppression: cfg.Audio.NoiseSuppression,
			AutoGainControl:  cfg.Audio.AutoGainControl,
			InputDeviceID:    cfg.Audio.InputDeviceID,
		},
		RTC:            rtc.DefaultConfig(),
		VoiceThreshold: cfg.Audio.VoiceThreshold,
		VadInterval:    cfg.Audio.VadInterval,
		Callbacks: app.Callbacks{
			OnAggregate: func(agg map[domain.ParticipantID]core.ConnState) {
				for id, state := range agg {
					log.Info().Str("peer", string(id)).Str("state", state.String()).Msg("peer state")
				}
			},
			OnMembers: func(members []domain.Participant) {
				names := make([]string, 0, len(members))
				for _, m := range members {
					names = append(names, m.DisplayName)
				}
				log.Info().Strs("members", names).Msg("room membership")
			},
			OnChat: func(msg domain.ChatMessage) {
				fmt.Printf("[%s] %s\n", msg.Name, msg.Text)
			},
			OnSpeaking: func(speaking bool) {
				log.Debug().Bool("speaking", speaking).Msg("voice activity")
			},
			OnDisconnected: func(err error) {
				log.Warn().Err(err).Msg("disconnected from rendezvous")
				cancel()
			},
		},
	})

	session.SetLocalMuted(*muted)

	if err := session.Connect(ctx, *server); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}
	defer session.Close()

	log.Info().Str("server", *server).Str("room", *room).Str("name", *name).Msg("joined")

	// Stdin drives chat; /mute, /unmute and /quit are local commands.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
			case line == "/quit":
				cancel()
				return
			case line == "/mute":
				session.SetLocalMuted(true)
			case line == "/unmute":
				session.SetLocalMuted(false)
			default:
				if err := session.SendChat(line); err != nil {
					log.Warn().Err(err).Msg("chat rejected")
				} else {
					session.MarkRead()
				}
			}
		}
	}()

	<-ctx.Done()
	log.Info().Msg("client exiting")
}
