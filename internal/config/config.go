package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Host string
	Port int

	DevMode     bool     // allow any websocket origin
	CORSOrigins []string // exact origins or hostnames; ignored when DevMode

	DBPath    string // SQLite file for calls, users, sessions, sales, events
	UploadDir string // video/avatar uploads
	PublicURL string // base for ring links handed to operators

	SessionTTL time.Duration

	Heartbeat  time.Duration
	WSReadBuf  int
	WSWriteBuf int
	WSMaxMsg   int64

	HTTPRatePerMin int
	WSRatePerMin   int

	MetricsRoute string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	TLSCertFile string
	TLSKeyFile  string
}

func Load() Config {
	return Config{
		Host:              getenv("HOST", "0.0.0.0"),
		Port:              getenvInt("PORT", 8080),
		DevMode:           getenv("DEV_MODE", "0") == "1",
		CORSOrigins:       getenvCSV("CORS_ORIGINS"),
		DBPath:            getenv("DB_PATH", "data/callscreen.db"),
		UploadDir:         getenv("UPLOAD_DIR", "public/uploads"),
		PublicURL:         getenv("PUBLIC_URL", ""),
		SessionTTL:        getenvDur("SESSION_TTL", 30*24*time.Hour),
		Heartbeat:         getenvDur("HEARTBEAT", 60*time.Second),
		WSReadBuf:         getenvInt("WS_READ_BUF", 64<<10),
		WSWriteBuf:        getenvInt("WS_WRITE_BUF", 64<<10),
		WSMaxMsg:          int64(getenvInt("WS_MAX_MSG", 1<<20)),
		HTTPRatePerMin:    getenvInt("HTTP_RATE_PER_MIN", 0),
		WSRatePerMin:      getenvInt("WS_RATE_PER_MIN", 0),
		MetricsRoute:      getenv("METRICS_ROUTE", "/metrics"),
		ReadHeaderTimeout: getenvDur("READ_HEADER_TIMEOUT", 5*time.Second),
		IdleTimeout:       getenvDur("IDLE_TIMEOUT", 120*time.Second),
		TLSCertFile:       getenv("TLS_CERT_FILE", ""),
		TLSKeyFile:        getenv("TLS_KEY_FILE", ""),
	}
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat must be positive, got %s", c.Heartbeat)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS cert and key must be set together")
	}
	return nil
}

func (c Config) BindAddr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// helpers

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvCSV(k string) []string {
	v := os.Getenv(k)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
