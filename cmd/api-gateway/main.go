package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	"go.uber.org/zap"

	"github.com/radieske/horse-race-platform-poc/internal/shared/config"
	"github.com/radieske/horse-race-platform-poc/internal/shared/logger"
)

func rp(to string) *httputil.ReverseProxy {
	u, _ := url.Parse(to)
	return httputil.NewSingleHostReverseProxy(u)
}

func main() {
	cfg := config.Load()
	log, _ := logger.New(cfg.ServiceName, cfg.Env)
	defer log.Sync()

	// targets
	raceURL := os.Getenv("RACE_URL")
	if raceURL == "" {
		raceURL = "http://localhost:8082"
	}
	feedURL := os.Getenv("FEED_URL")
	if feedURL == "" {
		feedURL = "http://localhost:8080"
	}
	race := rp(raceURL)
	feed := rp(feedURL)

	mux := http.NewServeMux()

	// corridas e apostas (ex.: /api/races/*, /api/bets/* -> race-service)
	mux.Handle("/api/races/", http.StripPrefix("/api", race))
	mux.Handle("/api/bets", http.StripPrefix("/api", race))
	mux.Handle("/api/bets/", http.StripPrefix("/api", race))

	// feed em tempo real (ex.: /api/feed/* -> race-feed-service)
	mux.Handle("/api/feed/", http.StripPrefix("/api/feed", feed))

	addr := ":" + cfg.HTTPPort
	log.Info("api-gateway listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, withCORS(mux)); err != nil && err != http.ErrServerClosed {
		log.Fatal("gateway failed", zap.Error(err))
	}
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Cron-Secret")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
