package types

import (
	"errors"
	"time"

	"github.com/rexbrahh/amm-arb/decoder/common"
	"github.com/rexbrahh/amm-arb/events"
)

// HealthResponse represents the shape of /healthz responses.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Cache  string `json:"cache"`
}

// OpportunitiesResponse is the payload of /v1/opportunities.
type OpportunitiesResponse struct {
	ScannedAt     time.Time            `json:"scanned_at"`
	Age           string               `json:"age"`
	Count         int                  `json:"count"`
	Opportunities []events.Opportunity `json:"opportunities"`
}

// PoolResponse is the latest snapshot of one pool with human-readable reserves.
type PoolResponse struct {
	events.PoolSnapshot
	ReserveADisplay string `json:"reserve_a_display"`
	ReserveBDisplay string `json:"reserve_b_display"`
}

// NewPoolResponse decorates a snapshot with decimal-scaled reserves.
func NewPoolResponse(snap events.PoolSnapshot) PoolResponse {
	return PoolResponse{
		PoolSnapshot:    snap,
		ReserveADisplay: common.FormatAmount(snap.ReserveA, snap.DecimalsA),
		ReserveBDisplay: common.FormatAmount(snap.ReserveB, snap.DecimalsB),
	}
}

// ErrorResponse is a generic API error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ErrNotFound indicates missing resources.
var ErrNotFound = errors.New("not found")

// ErrInvalidLimit is returned for a malformed ?limit query value.
var ErrInvalidLimit = errors.New("limit must be a positive integer")
