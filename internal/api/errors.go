package api

import "errors"

var (
	ErrNotFound    = errors.New("waypoint not found")
	ErrRateLimited = errors.New("rate limited by relay")
	ErrRejected    = errors.New("request rejected by relay")
)
