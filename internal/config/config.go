package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds everything the server reads from the environment. A .env
// file in the working directory is loaded first when present.
type Config struct {
	Addr          string  // listen address
	AllowedOrigin string  // CORS origin for the frontend
	PostgresDSN   string  // empty selects the in-memory channel store
	ValkeyAddr    string  // empty selects the in-memory read-state store
	JWTSecret     string  // empty disables bearer-token verification
	SendRPS       float64 // per-sender send rate
	SendBurst     int
}

func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] skipping .env: %v", err)
	}
	return Config{
		Addr:          getenv("KOINONIA_ADDR", ":8080"),
		AllowedOrigin: getenv("KOINONIA_ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		PostgresDSN:   os.Getenv("KOINONIA_POSTGRES_DSN"),
		ValkeyAddr:    os.Getenv("KOINONIA_VALKEY_ADDR"),
		JWTSecret:     os.Getenv("KOINONIA_JWT_SECRET"),
		SendRPS:       getenvFloat("KOINONIA_SEND_RPS", 5),
		SendBurst:     getenvInt("KOINONIA_SEND_BURST", 10),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] bad value for %s: %v", key, err)
		return fallback
	}
	return f
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] bad value for %s: %v", key, err)
		return fallback
	}
	return n
}
