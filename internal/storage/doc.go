// Package storage provides the daemon's optional persistence layer.
//
// It records:
//   - a journal of terminal dispatch outcomes (sent / permanently failed)
//   - caller dedup keys, so a restart doesn't re-send a recently accepted request
//
// The dispatch queue itself is intentionally memory-only.
package storage
