package quic

import "github.com/rs/xid"

// newConnectionID mints a connection ID for a new locally-initiated
// registration: xid's 12 bytes are globally unique without needing a
// random-number round trip per connection, and fit well under MaxCIDLength.
func newConnectionID() []byte {
	id := xid.New()
	return id.Bytes()
}
