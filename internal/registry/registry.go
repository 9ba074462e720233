// Package registry defines the call metadata store consumed by the relay
// and the HTTP API. The relay only ever reads from it.
package registry

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("call not found")

type Call struct {
	ID              string
	Title           string
	VideoURL        string
	CallerName      string
	CallerAvatarURL string
	ExpiresAt       *time.Time // nil = never expires
	ExpectedAmount  *float64
	OwnerUserID     string
	CreatedAt       time.Time
}

// Expired reports whether the call is past its expiry at the given instant.
// A call expiring exactly at now counts as expired.
func (c Call) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now)
}

// Source is the read-only view the relay validates joins against.
type Source interface {
	GetCall(ctx context.Context, callID string) (Call, error)
}
