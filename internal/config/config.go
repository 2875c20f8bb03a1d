package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	Store          string
	SigningKey     []byte
	AllowedOrigins []string
	RedisAddr      string
	NatsURL        string
	// MessageRate caps sendMessage frames per user per rate window. Zero
	// keeps the default.
	MessageRate int
}

// Params are the raw settings collected from flags and the environment.
type Params struct {
	ServerAddr     string
	DatabaseDSN    string
	Store          string
	SigningKey     string
	AllowedOrigins []string
	RedisAddr      string
	NatsURL        string
	MessageRate    int
}

// LoadEnv loads a .env file from the working directory into the process
// environment. A missing file is not an error.
func LoadEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

func GetEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(GetEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(p Params) (*Config, error) {
	if p.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	store := p.Store
	if store == "" {
		store = StorePostgres
	}
	switch store {
	case StorePostgres:
		if p.DatabaseDSN == "" {
			return nil, fmt.Errorf("database DSN cannot be empty")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("unknown store %q", p.Store)
	}

	if p.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	signingKey, err := decodeSigningSecret(p.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	if p.MessageRate < 0 {
		return nil, fmt.Errorf("message rate cannot be negative")
	}

	return &Config{
		ServerAddr:     p.ServerAddr,
		DatabaseDSN:    p.DatabaseDSN,
		Store:          store,
		SigningKey:     signingKey,
		AllowedOrigins: p.AllowedOrigins,
		RedisAddr:      p.RedisAddr,
		NatsURL:        p.NatsURL,
		MessageRate:    p.MessageRate,
	}, nil
}
