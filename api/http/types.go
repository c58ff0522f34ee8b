package main

import apitypes "github.com/rexbrahh/amm-arb/api/http/types"

type (
	// HealthResponse aliases the shared type for package-local convenience.
	HealthResponse = apitypes.HealthResponse
	// OpportunitiesResponse aliases the latest-scan payload.
	OpportunitiesResponse = apitypes.OpportunitiesResponse
	// PoolResponse aliases the pool snapshot payload.
	PoolResponse = apitypes.PoolResponse
	// ErrorResponse aliases the generic error payload.
	ErrorResponse = apitypes.ErrorResponse
)

var (
	// ErrNotFound exposes the shared not-found error.
	ErrNotFound = apitypes.ErrNotFound
	// ErrInvalidLimit exposes the limit validation error.
	ErrInvalidLimit = apitypes.ErrInvalidLimit
	// NewPoolResponse exposes the pool payload constructor.
	NewPoolResponse = apitypes.NewPoolResponse
)
