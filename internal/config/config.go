package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"netmaster/internal/auth"
)

const prefix = "NETMASTER_"

// Source looks up one configuration key. Empty values count as missing.
type Source func(key string) (string, bool)

type Config struct {
	Addr   string
	DBPath string

	Username     string
	Password     string
	PasswordHash string

	LogLevel  string
	LogFormat string
	LogFile   string

	UseHTTPS bool
	CertFile string
	KeyFile  string

	RateLimitPerMinute int
	RateLimitPerHour   int
	TrustProxy         bool
	RedisAddr          string
	RedisPassword      string
	RedisDB            int

	RetentionDays int

	SMTPServer string
	SMTPPort   int
	SMTPFrom   string

	ServerURL          string
	CollectionInterval time.Duration
	VerifySSL          bool
	AgentIP            string
	DiskPath           string
}

// Load resolves configuration from the process environment, then dir/.env,
// then the legacy dir/config.json or dir/config.yaml.
func Load(dir string) (Config, error) {
	sources, err := DefaultSources(dir)
	if err != nil {
		return Config{}, err
	}
	return Resolve(sources...), nil
}

func DefaultSources(dir string) ([]Source, error) {
	dot, err := DotEnv(filepath.Join(dir, ".env"))
	if err != nil {
		return nil, err
	}
	sources := []Source{Env(), dot}
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		legacy, err := LegacyFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		sources = append(sources, legacy)
	}
	return sources, nil
}

// Resolve builds a Config; for every key the first source holding a value
// wins.
func Resolve(sources ...Source) Config {
	l := lookup(sources)
	return Config{
		Addr:               l.get("ADDR", ":5000"),
		DBPath:             l.get("DB_PATH", "data/monitoring.db"),
		Username:           l.get("USERNAME", ""),
		Password:           l.get("PASSWORD", ""),
		PasswordHash:       l.get("PASSWORD_HASH", ""),
		LogLevel:           l.get("LOG_LEVEL", "info"),
		LogFormat:          l.get("LOG_FORMAT", "json"),
		LogFile:            l.get("LOG_FILE", ""),
		UseHTTPS:           l.getBool("USE_HTTPS", true),
		CertFile:           l.get("SSL_CERT", "certificates/server.crt"),
		KeyFile:            l.get("SSL_KEY", "certificates/server.key"),
		RateLimitPerMinute: l.getInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitPerHour:   l.getInt("RATE_LIMIT_PER_HOUR", 1000),
		TrustProxy:         l.getBool("TRUST_PROXY", false),
		RedisAddr:          l.get("REDIS_ADDR", ""),
		RedisPassword:      l.get("REDIS_PASSWORD", ""),
		RedisDB:            l.getInt("REDIS_DB", 0),
		RetentionDays:      l.getInt("RETENTION_DAYS", 30),
		SMTPServer:         l.get("SMTP_SERVER", ""),
		SMTPPort:           l.getInt("SMTP_PORT", 587),
		SMTPFrom:           l.get("SMTP_FROM", ""),
		ServerURL:          l.get("SERVER_URL", "https://localhost:5000/api/report"),
		CollectionInterval: l.getSeconds("COLLECTION_INTERVAL", 60*time.Second),
		VerifySSL:          l.getBool("VERIFY_SSL", false),
		AgentIP:            l.get("AGENT_IP", ""),
		DiskPath:           l.get("DISK_PATH", "/"),
	}
}

// ServerCredentials returns the username and bcrypt hash the collector
// authenticates against, hashing a plaintext password when no hash is set.
func (c Config) ServerCredentials() (string, string, error) {
	if c.Username == "" {
		return "", "", errors.New("config: " + prefix + "USERNAME is required")
	}
	if c.PasswordHash != "" {
		return c.Username, c.PasswordHash, nil
	}
	if c.Password == "" {
		return "", "", errors.New("config: " + prefix + "PASSWORD_HASH or " + prefix + "PASSWORD is required")
	}
	hash, err := auth.HashPassword(c.Password)
	if err != nil {
		return "", "", fmt.Errorf("config: hash password: %w", err)
	}
	return c.Username, hash, nil
}

func (c Config) ValidateAgent() error {
	switch {
	case c.Username == "" || c.Password == "":
		return errors.New("config: " + prefix + "USERNAME and " + prefix + "PASSWORD are required")
	case c.ServerURL == "":
		return errors.New("config: " + prefix + "SERVER_URL is required")
	case c.CollectionInterval < 10*time.Second:
		return errors.New("config: collection interval must be at least 10 seconds")
	}
	return nil
}

func Env() Source {
	return func(key string) (string, bool) {
		v, ok := os.LookupEnv(key)
		return v, ok && v != ""
	}
}

// DotEnv reads a dotenv file without touching the process environment. A
// missing file is an empty source.
func DotEnv(path string) (Source, error) {
	vals, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return Map(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Map(vals), nil
}

// LegacyFile reads the old flat config.json / config.yaml. Its keys are the
// lower-case names without the prefix, e.g. "password_hash".
func LegacyFile(path string) (Source, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Map(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	vals := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		vals[prefix+strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return Map(vals), nil
}

func Map(vals map[string]string) Source {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok && v != ""
	}
}

type lookup []Source

func (l lookup) raw(k string) string {
	for _, s := range l {
		if s == nil {
			continue
		}
		if v, ok := s(prefix + k); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (l lookup) get(k, d string) string {
	if v := l.raw(k); v != "" {
		return v
	}
	return d
}

func (l lookup) getInt(k string, d int) int {
	v := l.raw(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

// getSeconds accepts whole seconds or a Go duration string.
func (l lookup) getSeconds(k string, d time.Duration) time.Duration {
	v := l.raw(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return d
	}
	return dur
}

func (l lookup) getBool(k string, d bool) bool {
	v := strings.ToLower(l.raw(k))
	if v == "" {
		return d
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	return d
}
