package controller

import (
	"context"
	"net/http"
	"strings"

	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/go-chi/chi/v5"
)

// GatewayRegistry exposes the registry's administrative operations.
type GatewayRegistry interface {
	List() []gateway.Descriptor
	Get(id gateway.ID) (gateway.Descriptor, error)
	Enable(id gateway.ID) (gateway.Descriptor, error)
	Disable(id gateway.ID) (gateway.Descriptor, error)
	CreateTerminalToken(ctx context.Context, id gateway.ID) (*gateway.Token, error)
}

type GatewayController struct {
	registry GatewayRegistry
}

func NewGatewayController(registry GatewayRegistry) *GatewayController {
	return &GatewayController{registry: registry}
}

// List handles GET /api/v1/gateways in priority order.
func (h *GatewayController) List(w http.ResponseWriter, r *http.Request) {
	descs := h.registry.List()
	resp := make([]*GatewayResponse, 0, len(descs))
	for _, d := range descs {
		resp = append(resp, FromDescriptor(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/gateways/{id}
func (h *GatewayController) Get(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.registry.Get, gatewayID(r))
}

// Enable handles POST /api/v1/gateways/{id}/enable
func (h *GatewayController) Enable(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.registry.Enable, gatewayID(r))
}

// Disable handles POST /api/v1/gateways/{id}/disable
func (h *GatewayController) Disable(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.registry.Disable, gatewayID(r))
}

// ConnectionToken handles POST /api/v1/gateways/{id}/connection-token
func (h *GatewayController) ConnectionToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.registry.CreateTerminalToken(r.Context(), gatewayID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TerminalTokenResponse{
		Secret:    token.Secret,
		ExpiresIn: token.ExpiresInSeconds,
	})
}

func (h *GatewayController) respond(w http.ResponseWriter, fn func(gateway.ID) (gateway.Descriptor, error), id gateway.ID) {
	d, err := fn(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromDescriptor(d))
}

func gatewayID(r *http.Request) gateway.ID {
	return gateway.ID(strings.ToLower(chi.URLParam(r, "id")))
}
