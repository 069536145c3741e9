package server

import "statesync/pkg/protocol"

// Peer 世界循环看到的客户端
type Peer interface {
	EntityID() string
	Send(p protocol.Payload) error
	Close()
}
