package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	defaultIdleSessionTimeout = 30 * time.Minute
	defaultMagicLinkTTL       = 15 * time.Minute
)

type Config struct {
	ServerAddr         string
	DatabaseDSN        string
	SigningKey         []byte
	AllowedOrigins     []string
	BaseURL            string
	SMTPAddr           string
	SMTPFrom           string
	IdleSessionTimeout time.Duration
	MagicLinkTTL       time.Duration
	DevMode            bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret, baseURL string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:         serverAddr,
		DatabaseDSN:        databaseDSN,
		SigningKey:         signingKey,
		AllowedOrigins:     allowedOrigins,
		BaseURL:            baseURL,
		IdleSessionTimeout: defaultIdleSessionTimeout,
		MagicLinkTTL:       defaultMagicLinkTTL,
	}, nil
}
