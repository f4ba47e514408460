package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/RetroHub/internal/adapters/http"
	"github.com/dkeye/RetroHub/internal/adapters/rtc"
	"github.com/dkeye/RetroHub/internal/adapters/store"
	"github.com/dkeye/RetroHub/internal/app"
	"github.com/dkeye/RetroHub/internal/app/orch"
	"github.com/dkeye/RetroHub/internal/app/sfu"
	"github.com/dkeye/RetroHub/internal/config"
	"github.com/dkeye/RetroHub/internal/core"
)

type stores struct {
	users   core.UserStore
	records core.GameRecordStore
	close   func() error
}

func openStores(ctx context.Context, cfg *config.Config) (stores, error) {
	if cfg.DBDriver == "memory" {
		m := store.NewMemory()
		return stores{users: m, records: m, close: func() error { return nil }}, nil
	}
	s, err := store.OpenSQL(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return stores{}, err
	}
	return stores{users: s, records: s, close: s.Close}, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Error().Err(err).Msg("close store")
		}
	}()

	api, err := rtc.NewAPI()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build webrtc api")
	}

	reg := app.NewRegistry(cfg.ChannelCapacity, app.SimplePolicy{})
	bus := app.NewBus(reg)
	rooms := app.NewRoomManager()
	voice := sfu.NewVoiceRelay(rtc.Factory(api, rtc.DefaultWebRTCConfig(cfg.StunURLs...)), bus)

	o := orch.New(reg, bus, rooms, st.users, st.records, voice)
	o.StaleAfter = cfg.RoomStaleAfter

	gc, err := o.ScheduleRoomGC(cfg.RoomGCSpec)
	if err != nil {
		log.Fatal().Err(err).Str("spec", cfg.RoomGCSpec).Msg("invalid room gc schedule")
	}

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("RetroHub server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		gc.Start()
		<-gctx.Done()
		<-gc.Stop().Done()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}
	log.Info().Msg("Server exited gracefully")
}
