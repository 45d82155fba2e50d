package main

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalesamwenya/koinonia/internal/api/channels"
	"github.com/kalesamwenya/koinonia/internal/config"
	"github.com/kalesamwenya/koinonia/internal/middleware"
	"github.com/kalesamwenya/koinonia/internal/storage/memory"
	"github.com/kalesamwenya/koinonia/internal/storage/postgres"
	"github.com/kalesamwenya/koinonia/internal/storage/valkey"
	"github.com/kalesamwenya/koinonia/internal/ws"
)

func main() {
	cfg := config.Load()

	var store channels.ChannelStore
	if cfg.PostgresDSN != "" {
		pg, err := postgres.NewChannelStore(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("[main] postgres: %v", err)
		}
		defer pg.Close()
		store = pg
	} else {
		log.Println("[main] no KOINONIA_POSTGRES_DSN, using in-memory channel store")
		store = memory.NewChannelStore()
	}

	var readState channels.ReadStateStore
	if cfg.ValkeyAddr != "" {
		vk, err := valkey.NewReadStateStore(cfg.ValkeyAddr)
		if err != nil {
			log.Fatalf("[main] valkey: %v", err)
		}
		defer vk.Close()
		readState = vk
	} else {
		log.Println("[main] no KOINONIA_VALKEY_ADDR, using in-memory read state")
		readState = memory.NewReadStateStore()
	}

	hub := ws.NewHub()
	go hub.Run()

	handler := &channels.Handler{
		Store:     store,
		ReadState: readState,
		Hub:       hub,
		Limiter:   channels.NewSenderLimiter(cfg.SendRPS, cfg.SendBurst),
		JWTSecret: cfg.JWTSecret,
	}

	router := mux.NewRouter()
	channels.RegisterRoutes(router, handler)
	router.Handle("/metrics", promhttp.Handler())

	var root http.Handler = router
	if cfg.JWTSecret != "" {
		authed := middleware.Auth(cfg.JWTSecret, router)
		root = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Browsers cannot set headers on websocket upgrades, so /ws
			// verifies its ?token= itself; the scrape endpoint stays open
			// for the collector.
			if r.URL.Path == "/ws" || r.URL.Path == "/metrics" {
				router.ServeHTTP(w, r)
				return
			}
			authed.ServeHTTP(w, r)
		})
	}
	root = middleware.CORS(cfg.AllowedOrigin, root)

	log.Printf("[main] listening on %s", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, root))
}
