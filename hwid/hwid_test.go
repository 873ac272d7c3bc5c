package hwid

import (
	"errors"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
)

func TestHardwareID_StrategyOrder(t *testing.T) {
	tests := []struct {
		name       string
		strategies []Strategy
		want       string
	}{
		{
			name: "first strategy wins",
			strategies: []Strategy{
				func() (string, error) { return "first-id", nil },
				func() (string, error) { return "second-id", nil },
			},
			want: "first-id",
		},
		{
			name: "failure falls through to next",
			strategies: []Strategy{
				func() (string, error) { return "", errors.New("no DMI file") },
				func() (string, error) { return "second-id", nil },
			},
			want: "second-id",
		},
		{
			name: "empty result falls through",
			strategies: []Strategy{
				func() (string, error) { return "", nil },
				func() (string, error) { return "second-id", nil },
			},
			want: "second-id",
		},
		{
			name: "all strategies fail",
			strategies: []Strategy{
				func() (string, error) { return "", errors.New("no DMI file") },
				func() (string, error) { return "", errors.New("no wmic") },
			},
			want: UnknownID,
		},
		{
			name:       "no strategies",
			strategies: nil,
			want:       UnknownID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProviderWithStrategies(log.NewLogger(), tt.strategies...)
			assert.Equal(t, tt.want, p.HardwareID())
		})
	}
}

func TestHardwareID_NeverPanics(t *testing.T) {
	p := NewProviderWithStrategies(log.NewLogger(),
		func() (string, error) { return "", errors.New("boom") },
	)
	// Repeated lookups stay stable.
	assert.Equal(t, UnknownID, p.HardwareID())
	assert.Equal(t, UnknownID, p.HardwareID())
}
