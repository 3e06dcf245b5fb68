package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"neurobot/internal/models"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DB_NAME", "")
	cfg := LoadConfig()

	assert.Equal(t, "", cfg.DBName)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, models.CurrencyRUB, cfg.DefaultCurrency)
	assert.Equal(t, 72*time.Hour, cfg.TrialDuration)
	assert.Equal(t, 5, cfg.TxMaxRetries)
	assert.Contains(t, cfg.AllowedYooIp, "185.71.76.0/27")
}

func TestLoadConfigBilling(t *testing.T) {
	t.Setenv("FREE_LIMITS", "gpt:5, images:-1, broken:x, video:-7")
	t.Setenv("GIFT_THRESHOLDS", "rub:1000,USD:15")
	t.Setenv("TRIAL_PRICES", "RUB:1,USD:oops")
	t.Setenv("TRIAL_DURATION", "48h")
	t.Setenv("TX_MAX_RETRIES", "nope")
	t.Setenv("OPERATOR_CHAT_ID", "-100123")
	t.Setenv("STRIPE_FEE_PERCENT", "3.4")
	t.Setenv("TRUST_FORWARDED_FOR", "true")
	t.Setenv("PACKAGE_PRODUCTS", " tokens_100k, ,images_50")

	cfg := LoadConfig()

	assert.Equal(t, models.Quotas{"gpt": 5, "images": models.UnlimitedQuota}, cfg.FreeLimits)
	assert.Equal(t, map[models.Currency]float64{models.CurrencyRUB: 1000, models.CurrencyUSD: 15}, cfg.GiftThresholds)
	assert.Equal(t, map[models.Currency]float64{models.CurrencyRUB: 1}, cfg.TrialPrices)
	assert.Equal(t, 48*time.Hour, cfg.TrialDuration)
	assert.Equal(t, 5, cfg.TxMaxRetries)
	assert.Equal(t, int64(-100123), cfg.OperatorChatID)
	assert.Equal(t, 3.4, cfg.StripeFeePercent)
	assert.True(t, cfg.TrustForwardedFor)
	assert.Equal(t, []string{"tokens_100k", "images_50"}, cfg.PackageProducts)
}
