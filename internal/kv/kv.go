// Package kv provides the string key-value substrate behind per-profile storage.
package kv

import (
	"context"
	"errors"
)

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

var ErrNotFound = errors.New("key not found")

// Namespace scopes key to one browser profile.
func Namespace(profileID, key string) string {
	return "profile:" + profileID + ":" + key
}
