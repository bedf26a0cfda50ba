// README: Race checker against a running dispatch-api; verifies single-winner accept and dispatch behaviour.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	runner := NewRunner(cfg)
	results := runner.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			pass++
		case StatusFail:
			fail++
		case StatusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)
	if fail > 0 {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL     string
	JWTSecret   string
	JWTIssuer   string
	DSN         string
	RedisAddr   string
	Drivers     int
	Rounds      int
	Concurrency int
	Duration    time.Duration
	Timeout     time.Duration
}

// loadConfig reads flags, falling back to RACECHECK_* environment variables.
func loadConfig() Config {
	env := viper.New()
	env.SetEnvPrefix("RACECHECK")
	env.AutomaticEnv()
	env.SetDefault("base_url", "http://localhost:8080")
	env.SetDefault("jwt_issuer", "ridedispatch")
	env.SetDefault("drivers", 16)
	env.SetDefault("rounds", 5)
	env.SetDefault("concurrency", 8)
	env.SetDefault("duration", "5s")
	env.SetDefault("timeout", "60s")

	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", env.GetString("base_url"), "API base URL")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", env.GetString("jwt_secret"), "HS256 secret shared with the API")
	flag.StringVar(&cfg.JWTIssuer, "jwt-issuer", env.GetString("jwt_issuer"), "service token issuer")
	flag.StringVar(&cfg.DSN, "dsn", env.GetString("dsn"), "Postgres DSN (optional)")
	flag.StringVar(&cfg.RedisAddr, "redis", env.GetString("redis"), "Redis address (optional)")
	flag.IntVar(&cfg.Drivers, "drivers", env.GetInt("drivers"), "drivers racing per order")
	flag.IntVar(&cfg.Rounds, "rounds", env.GetInt("rounds"), "orders raced")
	flag.IntVar(&cfg.Concurrency, "concurrency", env.GetInt("concurrency"), "workers for the dispatch load case")
	flag.DurationVar(&cfg.Duration, "duration", env.GetDuration("duration"), "duration of the dispatch load case")
	flag.DurationVar(&cfg.Timeout, "timeout", env.GetDuration("timeout"), "total timeout")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}
