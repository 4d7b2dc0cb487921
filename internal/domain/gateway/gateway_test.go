package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeeSchedule_Estimate(t *testing.T) {
	tests := []struct {
		name  string
		fees  FeeSchedule
		total int64
		want  int64
	}{
		{"stripe 1.4% + 20p on 10.00", FeeSchedule{PercentBasisPoints: 140, FixedCents: 20}, 1000, 34},
		{"sumup 1.69% on 10.00", FeeSchedule{PercentBasisPoints: 169}, 1000, 17},
		{"rounds half up", FeeSchedule{PercentBasisPoints: 175}, 200, 4},
		{"no fees", FeeSchedule{}, 5000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fees.Estimate(tt.total))
		})
	}
}

func TestCapabilities_Supports(t *testing.T) {
	terminalOnly := Capabilities{SupportsTerminal: true}
	assert.True(t, terminalOnly.Supports(ChannelTerminal))
	assert.False(t, terminalOnly.Supports(ChannelOnline))
	assert.False(t, terminalOnly.Supports(Channel("kiosk")))
}

func TestParseChannel(t *testing.T) {
	c, err := ParseChannel("")
	require.NoError(t, err)
	assert.Equal(t, ChannelTerminal, c)

	c, err = ParseChannel("ONLINE")
	require.NoError(t, err)
	assert.Equal(t, ChannelOnline, c)

	_, err = ParseChannel("kiosk")
	assert.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	for _, st := range []Status{StatusActive, StatusInactive, StatusError, StatusConfiguring} {
		got, err := ParseStatus(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
	_, err := ParseStatus("offline")
	assert.Error(t, err)
}

func TestResult_Classification(t *testing.T) {
	assert.True(t, Approved("txn").IsApproved())
	assert.False(t, Declined("insufficient funds").IsApproved())
	assert.True(t, Transient("503").Retryable())
	assert.False(t, Permanent("bad request").Retryable())
	assert.False(t, Declined("x").Retryable())

	var nilResult *Result
	assert.False(t, nilResult.IsApproved())
	assert.False(t, nilResult.Retryable())
}
