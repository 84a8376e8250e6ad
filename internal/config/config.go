package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Connection settings are required and enforced by
// must(); engine tunables fall back to sensible defaults.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret string // secret used to verify actor tokens

	AMQPURL string // RabbitMQ URL for booking events (empty disables publishing)

	OpTimeout      time.Duration // per-operation deadline for engine calls
	SweepInterval  time.Duration // how often the no-show sweeper wakes up
	PolicyCacheTTL time.Duration // Redis TTL for the active policy snapshot
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"), // empty allowed
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		JWTSecret:      must("JWT_SECRET"),
		AMQPURL:        os.Getenv("AMQP_URL"),
		OpTimeout:      envDur("ENGINE_OP_TIMEOUT", 5*time.Second),
		SweepInterval:  envDur("NO_SHOW_SWEEP_INTERVAL", time.Minute),
		PolicyCacheTTL: envDur("POLICY_CACHE_TTL", 30*time.Second),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
