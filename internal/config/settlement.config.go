package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AppConfig struct {
	HTTPAddr     string
	RedisAddr    string
	RedisPass    string
	KafkaBrokers []string
	KafkaTopic   string

	// External providers
	ExchangeBaseURL   string
	ExchangeAPIKey    string
	ExchangeAPISecret string
	BankBaseURL       string
	BankAPIKey        string

	// Settlement behaviour
	MinDeposit         decimal.Decimal
	WithdrawalFee      decimal.Decimal
	OrderPollInterval  time.Duration
	ReconcileInterval  time.Duration
	OrderWorkers       int
	GatewayCallTimeout time.Duration

	// Circuit breaker thresholds, shared by all endpoint groups
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration
	BreakerSuccessThreshold int
}

func Load() AppConfig {
	return AppConfig{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8041"),
		RedisAddr:    getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass:    getEnv("REDIS_PASS", ""),
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"kafka:9092"}),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "settlement_events"),

		ExchangeBaseURL:   getEnv("EXCHANGE_BASE_URL", "https://api.bybit.com"),
		ExchangeAPIKey:    getEnv("EXCHANGE_API_KEY", ""),
		ExchangeAPISecret: getEnv("EXCHANGE_API_SECRET", ""),
		BankBaseURL:       getEnv("BANK_BASE_URL", "https://api.palmpay.com"),
		BankAPIKey:        getEnv("BANK_API_KEY", ""),

		MinDeposit:         getEnvDecimal("MIN_DEPOSIT", "5.00"),
		WithdrawalFee:      getEnvDecimal("WITHDRAWAL_FEE", "12.00"),
		OrderPollInterval:  getEnvDuration("ORDER_POLL_INTERVAL", 25*time.Second),
		ReconcileInterval:  getEnvDuration("RECONCILE_INTERVAL", 3*time.Minute),
		OrderWorkers:       getEnvInt("ORDER_WORKERS", 8),
		GatewayCallTimeout: getEnvDuration("GATEWAY_CALL_TIMEOUT", 10*time.Second),

		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerResetTimeout:     getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
		BreakerSuccessThreshold: getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		return strings.Split(v, ",")
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(fallback)
	return d
}
