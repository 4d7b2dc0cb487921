package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	domainErrors "github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/cassiomorais/pos-payments/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayController_List(t *testing.T) {
	s := newTestServer(t)
	s.registry.ListFunc = func() []gateway.Descriptor {
		return []gateway.Descriptor{testutil.CatalogDescriptor(gateway.Stripe), testutil.CatalogDescriptor(gateway.SumUp)}
	}

	rec := s.do(http.MethodGet, "/api/v1/gateways", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []GatewayResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "stripe", resp[0].ID)
	assert.Equal(t, "1.40", resp[0].TransactionFeePercent)
	assert.Equal(t, "0.20", resp[0].TransactionFeeFixed)
	assert.Equal(t, "sumup", resp[1].ID)
}

func TestGatewayController_Get(t *testing.T) {
	s := newTestServer(t)
	s.registry.GetFunc = func(id gateway.ID) (gateway.Descriptor, error) {
		if id == gateway.Square {
			return testutil.CatalogDescriptor(id), nil
		}
		return gateway.Descriptor{}, domainErrors.ErrGatewayNotFound
	}

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/gateways/SQUARE", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/gateways/paypal", "").Code)
}

func TestGatewayController_EnableDisable(t *testing.T) {
	s := newTestServer(t)
	s.registry.EnableFunc = func(id gateway.ID) (gateway.Descriptor, error) {
		return gateway.Descriptor{}, domainErrors.NewDomainError("missing_credentials",
			"zettle has no credentials", domainErrors.ErrInvalidConfiguration)
	}
	s.registry.DisableFunc = func(id gateway.ID) (gateway.Descriptor, error) {
		d := testutil.CatalogDescriptor(id)
		d.Enabled = false
		d.Status = gateway.StatusInactive
		return d, nil
	}

	rec := s.do(http.MethodPost, "/api/v1/gateways/zettle/enable", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_configuration")

	rec = s.do(http.MethodPost, "/api/v1/gateways/stripe/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp GatewayResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Enabled)
	assert.Equal(t, "inactive", resp.Status)
}

func TestGatewayController_ConnectionToken(t *testing.T) {
	s := newTestServer(t)
	s.registry.TokenFunc = func(ctx context.Context, id gateway.ID) (*gateway.Token, error) {
		if id != gateway.Stripe {
			return nil, domainErrors.ErrNotSupported
		}
		return &gateway.Token{Secret: "pst_test_123", ExpiresInSeconds: 1800}, nil
	}

	rec := s.do(http.MethodPost, "/api/v1/gateways/stripe/connection-token", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"secret":"pst_test_123","expires_in":1800}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/v1/gateways/sumup/connection-token", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHealthController(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pos-payments")

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health/live", "").Code)

	s.checks["database"] = func(context.Context) error { return nil }
	s.checks["redis"] = func(context.Context) error { return nil }
	rec = s.do(http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"database":"ok","redis":"ok"}}`, rec.Body.String())

	s.checks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	rec = s.do(http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not ready","checks":{"database":"ok","redis":"unavailable"}}`, rec.Body.String())
}

func TestRouter_SecurityAndCORSHeaders(t *testing.T) {
	s := newTestServer(t)
	s.registry.ListFunc = func() []gateway.Descriptor { return nil }

	rec := s.do(http.MethodGet, "/api/v1/gateways", "", "Origin", "http://localhost:3000")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `[]`, rec.Body.String())
}
