package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds everything the service reads from the environment.
type Config struct {
	ListenAddr   string
	AllowOrigins string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
}

// Load reads the environment, pulling in .env first outside production.
func Load() *Config {
	if strings.ToLower(os.Getenv("APP_ENV")) != "production" {
		_ = godotenv.Load()
	}
	return &Config{
		ListenAddr:   getenv("LISTEN_ADDR", "127.0.0.1:8080"),
		AllowOrigins: getenv("CORS_ALLOW_ORIGINS", "*"),
		DBHost:       getenv("DB_HOST", "localhost"),
		DBPort:       getenv("DB_PORT", "5432"),
		DBUser:       getenv("DB_USERNAME", "postgres"),
		DBPassword:   getenv("DB_PASSWORD", "password"),
		DBName:       getenv("DB_NAME", "support_chat"),
		DBSSLMode:    getenv("DB_SSLMODE", "disable"),
	}
}

// DSN assembles the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
