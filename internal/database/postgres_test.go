package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"neurobot/internal/config"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{DBHost: "db", DBUser: "u", DBPassword: "p", DBName: "neurobot", DBPort: "5433"}
	assert.Equal(t, "host=db user=u password=p dbname=neurobot port=5433 sslmode=disable TimeZone=UTC", DSN(cfg))
}

func TestModelsCoversDocuments(t *testing.T) {
	assert.Len(t, Models(), 8)
}
