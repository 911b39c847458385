// Package common holds the definitions shared by the protocol flows.
package common

import (
	"time"

	"github.com/pkg/errors"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
)

// DefaultTimeout bounds a wait for a single protocol message.
const DefaultTimeout = 120 * time.Second

// BatchTimeout bounds a wait for an initial batch or a sync response. The
// serving side throttles history, so these take longer than other messages.
const BatchTimeout = 5 * time.Minute

// ErrPeerWithSameIDExists is returned when a second session is opened with
// a peer that is already ready.
var ErrPeerWithSameIDExists = errors.New("ready peer with the same ID already exists")

// Flow is a named goroutine body run for every ready peer.
type Flow struct {
	Name        string
	ExecuteFunc func(peer *peerpkg.Peer)
}
