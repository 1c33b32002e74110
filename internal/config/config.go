package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Token verification (tokens are issued by the identity provider,
	// this service only verifies them)
	JWTSecret   string
	JWTJWKSURL  string
	JWTAudience string

	// AI Providers
	GLMAPIKey string
	GLMAPIURL string
	GLMModel  string

	DeepSeekAPIKey string
	DeepSeekAPIURL string
	DeepSeekModel  string

	AITimeout time.Duration
	AIMaxRPS  int

	// Optimization runs
	MaxIterations int
	StepTimeout   time.Duration
	RunTimeout    time.Duration

	// Quota
	TrialLimit        int
	SubscriptionLimit int
	AddonPackSize     int

	// Stripe
	StripeSecretKey         string
	StripeWebhookSecret     string
	StripeAPIURL            string
	StripePriceSubscription string
	StripePriceAddon        string

	// Admin
	UnlimitedEmails string

	// Job posting fetcher
	ScrapeTimeout time.Duration

	// Server
	Port        string
	CORSOrigins string
}

func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "cvforge_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTJWKSURL:  getEnv("JWT_JWKS_URL", ""),
		JWTAudience: getEnv("JWT_AUDIENCE", "authenticated"),

		GLMAPIKey: getEnv("GLM_API_KEY", ""),
		GLMAPIURL: getEnv("GLM_API_URL", "https://api.z.ai/api/paas/v4/chat/completions"),
		GLMModel:  getEnv("GLM_MODEL", "glm-5"),

		DeepSeekAPIKey: getEnv("DEEPSEEK_API_KEY", ""),
		DeepSeekAPIURL: getEnv("DEEPSEEK_API_URL", "https://api.deepseek.com/v1/chat/completions"),
		DeepSeekModel:  getEnv("DEEPSEEK_MODEL", "deepseek-chat"),

		AITimeout: parseDuration(getEnv("AI_TIMEOUT", "60s"), 60*time.Second),
		AIMaxRPS:  parseInt(getEnv("AI_MAX_RPS", "5"), 5),

		MaxIterations: parseInt(getEnv("MAX_ITERATIONS", "5"), 5),
		StepTimeout:   parseDuration(getEnv("STEP_TIMEOUT", "3m"), 3*time.Minute),
		RunTimeout:    parseDuration(getEnv("RUN_TIMEOUT", "10m"), 10*time.Minute),

		TrialLimit:        parseInt(getEnv("TRIAL_LIMIT", "3"), 3),
		SubscriptionLimit: parseInt(getEnv("SUBSCRIPTION_LIMIT", "50"), 50),
		AddonPackSize:     parseInt(getEnv("ADDON_PACK_SIZE", "10"), 10),

		StripeSecretKey:         getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:     getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeAPIURL:            getEnv("STRIPE_API_URL", "https://api.stripe.com"),
		StripePriceSubscription: getEnv("STRIPE_PRICE_SUBSCRIPTION", ""),
		StripePriceAddon:        getEnv("STRIPE_PRICE_ADDON", ""),

		UnlimitedEmails: getEnv("UNLIMITED_EMAILS", ""),

		ScrapeTimeout: parseDuration(getEnv("SCRAPE_TIMEOUT", "20s"), 20*time.Second),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
