package connmanager

import (
	"github.com/selfnet/selfd/infrastructure/network/netadapter"
)

type connectionSet map[string]*netadapter.NetConnection

func (cs connectionSet) remove(address string) {
	delete(cs, address)
}

func (cs connectionSet) has(address string) bool {
	_, ok := cs[address]
	return ok
}

func convertToSet(connections []*netadapter.NetConnection) connectionSet {
	connSet := make(connectionSet, len(connections))

	for _, connection := range connections {
		connSet[connection.Address()] = connection
	}

	return connSet
}
