package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo(t *testing.T) {
	ref := time.Date(2025, 3, 10, 12, 3, 0, 0, time.UTC)

	tests := []struct {
		expr string
		last time.Time
		next time.Time
	}{
		{expr: "*/5 * * * *", last: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), next: time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC)},
		{expr: "0 * * * *", last: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), next: time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)},
		{expr: "@daily", last: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), next: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)},
		{expr: "30 9 * * 1", last: time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC), next: time.Date(2025, 3, 17, 9, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			info, err := GetTriggerInfo(tt.expr, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.last, info.Last)
			assert.Equal(t, tt.next, info.Next)
			assert.Equal(t, ref.Sub(tt.last), info.TimeSinceLast)
			assert.Equal(t, tt.next.Sub(ref), info.TimeUntilNext)
		})
	}
}

func TestGetTriggerInfo_Every(t *testing.T) {
	ref := time.Date(2025, 3, 10, 12, 3, 0, 0, time.UTC)

	info, err := GetTriggerInfo("@every 1m", ref)
	require.NoError(t, err)
	assert.Equal(t, ref.Add(time.Minute), info.Next)
	assert.False(t, info.Last.After(ref))
	assert.LessOrEqual(t, info.TimeSinceLast, time.Minute)
}

func TestGetTriggerInfo_Invalid(t *testing.T) {
	_, err := GetTriggerInfo("not a schedule", time.Now())
	assert.Error(t, err)
}
