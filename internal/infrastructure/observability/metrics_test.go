package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("pos", reg)

	m.PaymentsTotal.WithLabelValues("card", "stripe", "completed").Inc()
	m.GatewayCallsTotal.WithLabelValues("stripe", "charge", "approved").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PaymentsTotal.WithLabelValues("card", "stripe", "completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GatewayCallsTotal.WithLabelValues("stripe", "charge", "approved")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "pos_payments_total")
	assert.Contains(t, names, "pos_gateway_calls_total")
}

func TestNewMetrics_TwoRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics("pos", prometheus.NewRegistry())
		NewMetrics("pos", prometheus.NewRegistry())
	})
}

func TestInitLogger_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger("debug", &buf)

	logger.Debug().Str("payment_id", "p-1").Msg("charged")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "p-1", line["payment_id"])
	assert.Equal(t, "debug", line["level"])
}

func TestInitLogger_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger("verbose", &buf)

	logger.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}
