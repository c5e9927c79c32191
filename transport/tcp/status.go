// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

package tcp

import (
	"encoding/json"
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/JoshuaSkootsky/btelem"
)

// consumerStatus is the JSON shape returned by /status/consumers/{id}.
type consumerStatus struct {
	ID             int    `json:"id"`
	Available      uint64 `json:"available"`
	PendingDropped uint64 `json:"pending_dropped"`
}

type ringStatus struct {
	Capacity          uint64 `json:"capacity"`
	RegisteredSchemas int    `json:"registered_schemas"`
}

// StatusHandler exposes a read-only introspection surface over the
// core's consumer_available and ring capacity, the same
// gorilla/mux-routed pattern
// cmd/tempo-federated-querier/handler/status.go uses for its own
// /status endpoints. It never drains; it only reads.
type StatusHandler struct {
	ctx    *btelem.Context
	logger log.Logger
}

// NewStatusHandler builds a StatusHandler over ctx and returns a
// *mux.Router with its routes registered. A nil logger falls back to
// a no-op logger.
func NewStatusHandler(ctx *btelem.Context, logger log.Logger) *mux.Router {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	h := &StatusHandler{ctx: ctx, logger: logger}
	r := mux.NewRouter()
	r.HandleFunc("/status/ring", h.ring).Methods(http.MethodGet)
	r.HandleFunc("/status/consumers/{id:[0-9]+}", h.consumer).Methods(http.MethodGet)
	return r
}

func (h *StatusHandler) ring(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, ringStatus{
		Capacity:          h.ctx.Capacity(),
		RegisteredSchemas: h.ctx.SchemaCount(),
	})
}

func (h *StatusHandler) consumer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idNum := 0
	for _, c := range vars["id"] {
		idNum = idNum*10 + int(c-'0')
	}

	available, pendingDropped, err := h.ctx.Available(btelem.ConsumerID(idNum))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeJSON(w, consumerStatus{ID: idNum, Available: available, PendingDropped: pendingDropped})
}

func (h *StatusHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Error(h.logger).Log("msg", "status encode failed", "err", err)
	}
}
