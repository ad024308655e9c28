package cache

import "context"

// PairingCache holds the short-lived pairing code a tenant uses to
// authorize a new session. Entries expire on their own; Clear just
// drops a code early once the session is linked or torn down.
type PairingCache interface {
	StorePairingCode(ctx context.Context, tenantID, code string) error
	ClearPairingCode(ctx context.Context, tenantID string) error
}
