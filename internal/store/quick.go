package store

import "github.com/haldvik/skribo/internal/document"

// quickUpdateWins arbitrates concurrent quick-note edits: the higher client
// timestamp wins, and an equal timestamp wins only when it comes from a
// different origin client. Equal timestamp and origin means the client is
// replaying its own accepted write, so there is nothing new to apply.
func quickUpdateWins(incoming, stored document.QuickMeta) bool {
	switch {
	case incoming.Timestamp > stored.Timestamp:
		return true
	case incoming.Timestamp < stored.Timestamp:
		return false
	default:
		return incoming.OriginClientID != stored.OriginClientID
	}
}
