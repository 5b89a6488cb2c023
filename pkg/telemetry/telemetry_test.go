package telemetry_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/engagekit/pkg/telemetry"
)

func TestNewEvent_CopiesProperties(t *testing.T) {
	t.Parallel()

	props := map[string]any{"plan": "pro"}
	e := telemetry.NewEvent("Purchase", props)
	props["plan"] = "free"

	assert.Equal(t, "pro", e.Properties["plan"])

	e2 := e.WithProperty(telemetry.PropDuration, int64(12))
	assert.NotContains(t, e.Properties, telemetry.PropDuration)
	assert.Equal(t, int64(12), e2.Properties[telemetry.PropDuration])
}

func TestEvent_JSON(t *testing.T) {
	t.Parallel()

	occurred := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	e := telemetry.NewEvent(telemetry.EventAppForeground, nil).WithProperty(telemetry.PropDuration, 1799)
	e.SessionID = "s-1"
	e.SessionNumber = 3
	e.Occurred = occurred
	e.ActiveTriggers = []telemetry.ActiveTriggerRef{{TriggerID: "t1", ExpiresAt: 1700000000000}}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"name": "CE App Foreground",
		"properties": {"CE Duration": 1799},
		"sessionID": "s-1",
		"sessionNumber": 3,
		"activeTriggers": [{"triggerID": "t1", "expiresAt": 1700000000000}],
		"occurred": "2024-02-03T04:05:06Z"
	}`, string(data))
}

func TestSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(1801), telemetry.Seconds(1801*time.Second))
	assert.Equal(t, int64(2), telemetry.Seconds(1500*time.Millisecond))
	assert.Equal(t, int64(0), telemetry.Seconds(0))
}
