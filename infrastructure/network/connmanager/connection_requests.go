package connmanager

import (
	"time"
)

const (
	minRetryDuration = 30 * time.Second
	maxRetryDuration = 10 * time.Minute
)

func nextRetryDuration(previousDuration time.Duration) time.Duration {
	if previousDuration == 0 {
		return minRetryDuration
	}
	if previousDuration*2 > maxRetryDuration {
		return maxRetryDuration
	}
	return previousDuration * 2
}

// checkRequestedConnections checks that all active requests are still
// connected, and initiates connections for pending requests that are due.
// While doing so, it filters out of connSet all connections that were
// initiated as a connection request
func (c *ConnectionManager) checkRequestedConnections(connSet connectionSet) {
	c.connectionRequestsLock.Lock()
	defer c.connectionRequestsLock.Unlock()

	now := c.now()

	for address, connReq := range c.activeRequested {
		if connSet.has(address) {
			connSet.remove(address)
			continue
		}
		// a requested connection was disconnected
		delete(c.activeRequested, address)
		if connReq.isPermanent {
			connReq.nextAttempt = now
			connReq.retryDuration = 0
			c.pendingRequested[address] = connReq
		}
	}

	for address, connReq := range c.pendingRequested {
		if connReq.nextAttempt.After(now) {
			continue
		}

		if connSet.has(address) {
			delete(c.pendingRequested, address)
			c.activeRequested[address] = connReq
			connSet.remove(address)
			continue
		}

		err := c.initiateConnection(connReq.address)
		if err == nil {
			delete(c.pendingRequested, address)
			c.activeRequested[address] = connReq
			continue
		}
		if !connReq.isPermanent {
			log.Infof("Couldn't connect to %s: %s", address, err)
			delete(c.pendingRequested, address)
			continue
		}
		connReq.retryDuration = nextRetryDuration(connReq.retryDuration)
		connReq.nextAttempt = now.Add(connReq.retryDuration)
		log.Infof("Couldn't connect to %s: %s. Retrying in %s", address, err, connReq.retryDuration)
	}
}

// AddConnectionRequest adds the given address to the list of pending
// connection requests and wakes the connections loop
func (c *ConnectionManager) AddConnectionRequest(address string, isPermanent bool) {
	c.connectionRequestsLock.Lock()
	if _, ok := c.activeRequested[address]; !ok {
		c.pendingRequested[address] = &connectionRequest{
			address:     address,
			isPermanent: isPermanent,
		}
	}
	c.connectionRequestsLock.Unlock()
	c.run()
}
