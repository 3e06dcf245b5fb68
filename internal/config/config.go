package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"neurobot/internal/models"
)

type Config struct {
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	BotToken      string
	// OperatorChatID receives reconciliation alerts; 0 disables them.
	OperatorChatID int64
	HTTPAddr       string
	LogLevel       string
	RabbitMQURL    string

	YookassaShopID      string
	YookassaKey         string
	YookassaReturnURL   string
	YookassaFeePercent  float64
	AllowedYooIp        []string
	TrustForwardedFor   bool
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string
	StripeFeePercent    float64
	StripeFeeFixed      float64
	StarsFeePercent     float64

	DefaultCurrency models.Currency
	FreeLimits      models.Quotas
	GiftThresholds  map[models.Currency]float64
	MinAmounts      map[models.Currency]float64
	TrialPrices     map[models.Currency]float64
	TrialDuration   time.Duration
	TxMaxRetries    int
	CatalogCacheTTL time.Duration
	// RenewalGrace is how long an ACTIVE row may stay past its end date
	// waiting for the provider's renewal before it is expired.
	RenewalGrace   time.Duration
	WorkerSchedule string

	SubscriptionProducts []string
	PackageProducts      []string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using system environment variables")
	}

	return &Config{
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "neurobot"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		BotToken:       getEnv("TELEGRAM_BOT_TOKEN", ""),
		OperatorChatID: getEnvInt64("OPERATOR_CHAT_ID", 0),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		RabbitMQURL:    getEnv("RABBITMQ_URL", ""),

		YookassaShopID:     getEnv("YOOKASSA_SHOP_ID", ""),
		YookassaKey:        getEnv("YOOKASSA_SECRET_KEY", ""),
		YookassaReturnURL:  getEnv("YOOKASSA_RETURN_URL", ""),
		YookassaFeePercent: getEnvFloat("YOOKASSA_FEE_PERCENT", 3.5),
		AllowedYooIp: []string{
			"185.71.76.0/27",
			"185.71.77.0/27",
			"77.75.153.0/25",
			"77.75.156.11/32",
			"77.75.156.35/32",
			"77.75.154.128/25",
			"2a02:5180::/32",
		},
		TrustForwardedFor:   getEnvBool("TRUST_FORWARDED_FOR", false),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeSuccessURL:    getEnv("STRIPE_SUCCESS_URL", ""),
		StripeCancelURL:     getEnv("STRIPE_CANCEL_URL", ""),
		StripeFeePercent:    getEnvFloat("STRIPE_FEE_PERCENT", 2.9),
		StripeFeeFixed:      getEnvFloat("STRIPE_FEE_FIXED", 0.3),
		StarsFeePercent:     getEnvFloat("STARS_FEE_PERCENT", 0),

		DefaultCurrency: models.Currency(strings.ToUpper(getEnv("DEFAULT_CURRENCY", "RUB"))),
		FreeLimits:      getEnvQuotas("FREE_LIMITS", models.Quotas{}),
		GiftThresholds:  getEnvAmounts("GIFT_THRESHOLDS", nil),
		MinAmounts:      getEnvAmounts("MIN_AMOUNTS", map[models.Currency]float64{models.CurrencyRUB: 1, models.CurrencyUSD: 0.5, models.CurrencyEUR: 0.5, models.CurrencyXTR: 1}),
		TrialPrices:     getEnvAmounts("TRIAL_PRICES", nil),
		TrialDuration:   getEnvDuration("TRIAL_DURATION", 72*time.Hour),
		TxMaxRetries:    getEnvInt("TX_MAX_RETRIES", 5),
		CatalogCacheTTL: getEnvDuration("CATALOG_CACHE_TTL", 10*time.Minute),
		RenewalGrace:    getEnvDuration("RENEWAL_GRACE", 48*time.Hour),
		WorkerSchedule:  getEnv("WORKER_SCHEDULE", "@hourly"),

		SubscriptionProducts: getEnvList("SUBSCRIPTION_PRODUCTS"),
		PackageProducts:      getEnvList("PACKAGE_PRODUCTS"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	return int(getEnvInt64(key, int64(fallback)))
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		logrus.Warnf("invalid %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		logrus.Warnf("invalid %s=%q, using %v", key, value, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		logrus.Warnf("invalid %s=%q, using %t", key, value, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		logrus.Warnf("invalid %s=%q, using %s", key, value, fallback)
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvAmounts parses "RUB:1000,USD:15".
func getEnvAmounts(key string, fallback map[models.Currency]float64) map[models.Currency]float64 {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	out := make(map[models.Currency]float64)
	for name, raw := range pairs(value) {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			logrus.Warnf("invalid %s entry %s:%s, skipped", key, name, raw)
			continue
		}
		out[models.Currency(strings.ToUpper(name))] = f
	}
	return out
}

// getEnvQuotas parses "gpt:5,images:-1"; -1 is unlimited.
func getEnvQuotas(key string, fallback models.Quotas) models.Quotas {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	out := models.Quotas{}
	for name, raw := range pairs(value) {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < models.UnlimitedQuota {
			logrus.Warnf("invalid %s entry %s:%s, skipped", key, name, raw)
			continue
		}
		out[name] = n
	}
	return out
}

func pairs(value string) map[string]string {
	out := make(map[string]string)
	for _, item := range strings.Split(value, ",") {
		name, raw, ok := strings.Cut(strings.TrimSpace(item), ":")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(raw)
	}
	return out
}
