package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid config")

type Server struct {
	Address     string
	Port        int
	Workers     uint
	ConnTimeout time.Duration // read deadline for one poll of a session
}

type Journal struct {
	Dir string // empty disables persistence
}

type Log struct {
	Level  string
	Pretty bool
}

type Config struct {
	Server  Server
	Journal Journal
	Log     Log
	// Books opened at startup.
	Symbols []string
}

func Default() Config {
	return Config{
		Server: Server{
			Address:     "0.0.0.0",
			Port:        9001,
			Workers:     10,
			ConnTimeout: 250 * time.Millisecond,
		},
		Journal: Journal{
			Dir: "data/journal",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if it exists) and the
// environment. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// The .env file is optional.
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if address, ok := os.LookupEnv("MATCHCORE_ADDRESS"); ok {
		cfg.Server.Address = address
	}
	if port := os.Getenv("MATCHCORE_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p < 0 || p > 65535 {
			return Config{}, fmt.Errorf("%w: MATCHCORE_PORT=%q", ErrInvalidConfig, port)
		}
		cfg.Server.Port = p
	}
	if workers := os.Getenv("MATCHCORE_WORKERS"); workers != "" {
		n, err := strconv.ParseUint(workers, 10, 32)
		if err != nil || n == 0 {
			return Config{}, fmt.Errorf("%w: MATCHCORE_WORKERS=%q", ErrInvalidConfig, workers)
		}
		cfg.Server.Workers = uint(n)
	}
	if timeout := os.Getenv("MATCHCORE_CONN_TIMEOUT_MS"); timeout != "" {
		ms, err := strconv.Atoi(timeout)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("%w: MATCHCORE_CONN_TIMEOUT_MS=%q", ErrInvalidConfig, timeout)
		}
		cfg.Server.ConnTimeout = time.Duration(ms) * time.Millisecond
	}
	if dir, ok := os.LookupEnv("MATCHCORE_JOURNAL_DIR"); ok {
		cfg.Journal.Dir = dir
	}

	// Symbols from comma-separated list, e.g. "AAPL,MSFT".
	if symbols := os.Getenv("MATCHCORE_SYMBOLS"); symbols != "" {
		cfg.Symbols = nil
		for _, symbol := range strings.Split(symbols, ",") {
			if symbol = strings.TrimSpace(symbol); symbol != "" {
				cfg.Symbols = append(cfg.Symbols, symbol)
			}
		}
	}

	if level := os.Getenv("MATCHCORE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = strings.ToLower(level)
	}
	if pretty := os.Getenv("MATCHCORE_LOG_PRETTY"); pretty != "" {
		b, err := strconv.ParseBool(pretty)
		if err != nil {
			return Config{}, fmt.Errorf("%w: MATCHCORE_LOG_PRETTY=%q", ErrInvalidConfig, pretty)
		}
		cfg.Log.Pretty = b
	}

	return cfg, nil
}
