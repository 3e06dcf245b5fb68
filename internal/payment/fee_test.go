package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeeScheduleNet(t *testing.T) {
	assert.Equal(t, 96.5, FeeSchedule{Percent: 3.5}.Net(100))
	assert.Equal(t, 18.15, FeeSchedule{Percent: 2.9, Fixed: 0.3}.Net(19))
	assert.Equal(t, 10.0, FeeSchedule{}.Net(10))
	assert.Equal(t, 0.0, FeeSchedule{Fixed: 1}.Net(0.5))
}
