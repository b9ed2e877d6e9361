package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port        int
	JWTSecret   string
	DatabaseURL string
	CORSOrigins []string

	// Payment gateway (hosted invoices).
	MoyasarBaseURL   string
	MoyasarSecretKey string
	// CallbackURL is where the gateway redirects after payment and where the
	// webhook is registered.
	CallbackURL string

	// SMS gateway.
	TaqnyatBaseURL string
	TaqnyatAPIKey  string
	TaqnyatSender  string

	AdminEmail    string
	AdminPassword string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port, _ := strconv.Atoi(getEnv("PORT", "4001"))

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	origins := strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,https://baitalqudrat.com"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return &Config{
		Port:        port,
		JWTSecret:   jwtSecret,
		DatabaseURL: dbURL,
		CORSOrigins: origins,

		MoyasarBaseURL:   getEnv("MOYASAR_BASE_URL", "https://api.moyasar.com"),
		MoyasarSecretKey: getEnv("MOYASAR_SECRET_KEY", ""),
		CallbackURL:      getEnv("PAYMENT_CALLBACK_URL", "https://baitalqudrat.com/payment-success"),

		TaqnyatBaseURL: getEnv("TAQNYAT_BASE_URL", "https://api.taqnyat.sa"),
		TaqnyatAPIKey:  getEnv("TAQNYAT_API_KEY", ""),
		TaqnyatSender:  getEnv("TAQNYAT_SENDER_NAME", "BaitAlQudrat"),

		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@baitalqudrat.com"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "admin123"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
