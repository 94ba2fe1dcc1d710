package interfaces

import "context"

// KeyValueStore persists opaque string values such as session credentials.
// FUNCTIONAL DISCOVERY: Get reports a missing key with found=false rather than
// an error so absent credentials are an ordinary state.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}
