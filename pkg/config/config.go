package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	AllowedOrigins []string
	Debug          bool
	LogLevel       string
	Store          string
	DBConnURI      string
	SQLitePath     string
	RedisURL       string
	RedisOpts      *redis.Options
	CatalogDir     string
	AdminToken     string
	OtelEndpoint   string

	Game GameConfig
}

// Load parses the command-line arguments into the Config struct
func (c *Config) Load(args []string) error {
	fs := flag.NewFlagSet("questbot", flag.ContinueOnError)

	addrDefault := envOrDefault("ADDR", ":8080")
	debugDefault := envOrDefaultBool("DEBUG", false)
	storeDefault := envOrDefault("STORE", StorePostgres)
	dbConnDefault := envOrDefault("DATABASE_URL", "postgresql://postgres:postgres@db/questbot")
	sqlitePathDefault := envOrDefault("SQLITE_PATH", "questbot.db")
	redisURLDefault := envOrDefault("REDIS_URL", "redis://localhost:6379/0")
	catalogDirDefault := envOrDefault("CATALOG_DIR", "")
	readTimeoutDefault := envOrDefaultDuration("READ_TIMEOUT", 10*time.Second)
	writeTimeoutDefault := envOrDefaultDuration("WRITE_TIMEOUT", 10*time.Second)
	idleTimeoutDefault := envOrDefaultDuration("IDLE_TIMEOUT", 60*time.Second)
	allowedOriginsDefault := envOrDefault("ALLOWED_ORIGINS", "http://localhost:3000")

	fs.StringVar(&c.Addr, "ADDR", addrDefault, "binding server address")
	fs.BoolVar(&c.Debug, "debug", debugDefault, "enable debug mode for detailed logging")
	fs.StringVar(&c.Store, "STORE", storeDefault, "persistent store backend (postgres or sqlite)")
	fs.StringVar(&c.DBConnURI, "DATABASE_URL", dbConnDefault, "database connection uri")
	fs.StringVar(&c.SQLitePath, "SQLITE_PATH", sqlitePathDefault, "sqlite database file when STORE=sqlite")
	fs.StringVar(&c.RedisURL, "REDIS_URL", redisURLDefault, "redis url")
	fs.StringVar(&c.CatalogDir, "CATALOG_DIR", catalogDirDefault, "directory with boss/gear yaml overrides (watched for changes)")
	fs.DurationVar(&c.ReadTimeout, "READ_TIMEOUT", readTimeoutDefault, "http read timeout")
	fs.DurationVar(&c.WriteTimeout, "WRITE_TIMEOUT", writeTimeoutDefault, "http write timeout")
	fs.DurationVar(&c.IdleTimeout, "IDLE_TIMEOUT", idleTimeoutDefault, "http idle timeout")

	var allowedOrigins string
	fs.StringVar(&allowedOrigins, "ALLOWED_ORIGINS", allowedOriginsDefault, "comma-separated list of allowed origins for CORS")

	if err := fs.Parse(args); err != nil {
		return err
	}

	c.AllowedOrigins = parseOrigins(allowedOrigins)
	c.AdminToken = os.Getenv("ADMIN_TOKEN")
	c.OtelEndpoint = os.Getenv("QUESTBOT_OTEL_ENDPOINT")

	c.LogLevel = os.Getenv("LOG_LEVEL")
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Debug {
		c.LogLevel = "debug"
	}

	return c.Game.Load()
}

// NewRedisOpts parses a redis url, falling back to localhost defaults
func NewRedisOpts(url string) *redis.Options {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return &redis.Options{Addr: "localhost:6379"}
	}
	return opts
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	return value
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}

	return parsed
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}

	return parsed
}

// parseOrigins parses the allowed origins flag or uses a default value if none is provided
func parseOrigins(allowedOrigins string) []string {
	if allowedOrigins == "" {
		return []string{"http://localhost:3000"}
	}

	origins := strings.Split(allowedOrigins, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}

	return origins
}
