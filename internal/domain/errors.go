package domain

import "errors"

// Error taxonomy (sentinels). Handlers map these onto HTTP statuses in one
// place; pipelines treat ErrCircuitOpen and ErrDegraded as "return zero values
// and keep going".
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limited")
	ErrCircuitOpen     = errors.New("store circuit open")
	ErrDegraded        = errors.New("dependency degraded")
	ErrInternal        = errors.New("internal error")
)
