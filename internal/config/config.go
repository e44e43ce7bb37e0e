package config // package config loads application configuration from environment variables

import (
	"net/url" // url parses SERVER_URL into its host
	"os"      // os provides access to environment variables
	"strings" // strings splits list-valued variables
	"time"    // time parses durations

	"github.com/rs/zerolog/log" // log reports configuration errors and halts execution
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	ServerURL string // public base URL of this server; its host is the token audience
	LogLevel  string // zerolog level name
	Storage   string // "mysql" or "memory"
	Licenses  string // JSON file seeding the memory license store

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	TokenSecret       string        // signing secret; generated and persisted when empty
	TokenTTL          time.Duration // access token lifetime
	TokenScope        string        // scope claim written into tokens
	TokenCodec        string        // "hmac" or "jwt"
	PersistFreeTokens bool          // record free-license tokens in the revocation ledger
	BcryptCost        int           // bcrypt cost for client secret hashing

	SessionTTL      time.Duration // payment session lifetime
	CleanupInterval time.Duration // period of the expired token/session sweep

	CORSOrigins    []string // extra origins allowed besides ServerURL
	ProtectedPaths []string // path prefixes requiring "Authorization: License"

	AMQPURL            string // RabbitMQ URL; empty applies payment events inline
	PaymentEventsQueue string // queue carrying payment lifecycle events
	PaymentProofSecret string // HMAC key for payment proofs; falls back to the token secret

	Stripe StripeConfig
}

// StripeConfig holds Stripe credentials and redirect URLs.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	APIBase       string
}

// Load reads configuration values from environment variables.  Required
// variables are enforced by must() and missing values cause the program to
// exit with a fatal log message.
func Load() Config {
	cfg := Config{
		Env:       envStr("APP_ENV", "dev"),
		Port:      must("APP_PORT"),
		ServerURL: strings.TrimRight(must("SERVER_URL"), "/"),
		LogLevel:  envStr("LOG_LEVEL", "info"),
		Storage:   strings.ToLower(envStr("STORAGE", "mysql")),
		Licenses:  os.Getenv("LICENSES_FILE"),

		TokenSecret:       os.Getenv("TOKEN_SECRET"),
		TokenTTL:          envDur("TOKEN_TTL", time.Hour),
		TokenScope:        envStr("TOKEN_SCOPE", "read"),
		TokenCodec:        strings.ToLower(envStr("TOKEN_CODEC", "hmac")),
		PersistFreeTokens: envBool("PERSIST_FREE_TOKENS", false),
		BcryptCost:        envInt("BCRYPT_COST", 10),

		SessionTTL:      envDur("SESSION_TTL", time.Hour),
		CleanupInterval: envDur("CLEANUP_INTERVAL", time.Hour),

		CORSOrigins:    envList("CORS_ALLOWED_ORIGINS"),
		ProtectedPaths: envList("PROTECTED_PATHS"),

		AMQPURL:            firstEnv("RABBITMQ_URL", "AMQP_URL"),
		PaymentEventsQueue: envStr("PAYMENT_EVENTS_QUEUE", "olp.payment.events"),
		PaymentProofSecret: os.Getenv("PAYMENT_PROOF_SECRET"),

		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			SuccessURL:    os.Getenv("STRIPE_SUCCESS_URL"),
			CancelURL:     os.Getenv("STRIPE_CANCEL_URL"),
			APIBase:       envStr("STRIPE_API_BASE", "https://api.stripe.com/v1"),
		},
	}
	if cfg.Storage == "mysql" {
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = envStr("DB_PORT", "3306")
		cfg.DBName = must("DB_NAME")
	}
	if len(cfg.ProtectedPaths) == 0 {
		cfg.ProtectedPaths = []string{"/content/"}
	}
	if _, err := url.Parse(cfg.ServerURL); err != nil || cfg.Host() == "" {
		log.Fatal().Str("SERVER_URL", cfg.ServerURL).Msg("SERVER_URL must be an absolute URL")
	}
	return cfg
}

// Host returns the host (and port, if any) of ServerURL.
func (c Config) Host() string {
	return HostOf(c.ServerURL)
}

// HostOf returns the host[:port] of raw or "" when raw is not absolute.
func HostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatal().Str("key", key).Msg("missing required env var")
	}
	return v
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
