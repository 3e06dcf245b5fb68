package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowedIP(t *testing.T) {
	cidrs := []string{"185.71.76.0/27", "not-a-cidr", "2a02:5180::/32"}

	assert.True(t, IsAllowedIP("185.71.76.31", cidrs))
	assert.False(t, IsAllowedIP("185.71.76.32", cidrs))
	assert.True(t, IsAllowedIP("2a02:5180::1", cidrs))
	assert.False(t, IsAllowedIP("garbage", cidrs))
	assert.False(t, IsAllowedIP("10.0.0.1", nil))
}
