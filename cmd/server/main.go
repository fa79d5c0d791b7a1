package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"chatgenius/internal/api"
	"chatgenius/internal/config"
	"chatgenius/internal/database"
	"chatgenius/internal/mail"
	"chatgenius/internal/server"
	"chatgenius/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	addr           string
	dsn            string
	signingKey     string
	baseURL        string
	smtpAddr       string
	smtpFrom       string
	devMode        bool
	allowedOrigins stringSliceFlag
)

func main() {
	// .env is optional, flags and real env take precedence
	_ = godotenv.Load()

	flag.StringVar(&addr, "addr", envOr("CHATGENIUS_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("CHATGENIUS_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", envOr("CHATGENIUS_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.StringVar(&baseURL, "base-url", envOr("CHATGENIUS_BASE_URL", "http://localhost:8000"), "public base URL used in magic links")
	flag.StringVar(&smtpAddr, "smtp-addr", envOr("CHATGENIUS_SMTP_ADDR", "localhost:25"), "SMTP server address")
	flag.StringVar(&smtpFrom, "smtp-from", envOr("CHATGENIUS_SMTP_FROM", "no-reply@chatgenius.local"), "sender address for magic link email")
	flag.BoolVar(&devMode, "dev", os.Getenv("CHATGENIUS_DEV") != "", "return magic links in API responses instead of sending email")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatgenius] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, baseURL, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}
	cfg.SMTPAddr = smtpAddr
	cfg.SMTPFrom = smtpFrom
	cfg.DevMode = devMode

	db, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := db.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, db, statsUpdater, cfg.IdleSessionTimeout)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	mailer := mail.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPFrom, logger)

	srv := api.NewApp(mux, logger, chatServer, db, mailer, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
