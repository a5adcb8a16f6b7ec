package gateway

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ConnectionRegistry tracks the gateway's live connections and their channel
// subscriptions. It is the LivenessOracle consulted by the presence registry
// and the fan-out path for join/leave events.
//
// It deliberately knows nothing about identities or payloads; that state
// lives in the store behind the presence registry.
type ConnectionRegistry struct {
	logger *zap.Logger
	mu     sync.RWMutex

	connections          map[string]*Connection
	subscribersByChannel map[string]map[string]struct{}
	channelsByConnection map[string]map[string]struct{}
}

func NewConnectionRegistry(
	logger *zap.Logger,
) *ConnectionRegistry {
	return &ConnectionRegistry{
		logger:               logger,
		connections:          make(map[string]*Connection),
		subscribersByChannel: make(map[string]map[string]struct{}),
		channelsByConnection: make(map[string]map[string]struct{}),
	}
}

func (r *ConnectionRegistry) Connect(connection *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[connection.Id] = connection
}

func (r *ConnectionRegistry) Subscribe(channel string, connectionId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connectionId]; !ok {
		return errors.New("connection is not attached to the gateway")
	}

	if _, ok := r.subscribersByChannel[channel]; !ok {
		r.subscribersByChannel[channel] = make(map[string]struct{})
	}

	if _, ok := r.subscribersByChannel[channel][connectionId]; ok {
		return errors.New("connection already subscribed to channel")
	}

	r.subscribersByChannel[channel][connectionId] = struct{}{}

	if _, ok := r.channelsByConnection[connectionId]; !ok {
		r.channelsByConnection[connectionId] = make(map[string]struct{})
	}

	r.channelsByConnection[connectionId][channel] = struct{}{}

	return nil
}

func (r *ConnectionRegistry) Unsubscribe(channel string, connectionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if connectionChannels, ok := r.channelsByConnection[connectionId]; ok {
		delete(connectionChannels, channel)
		if len(connectionChannels) == 0 {
			delete(r.channelsByConnection, connectionId)
		}
	}

	if channelConnections, ok := r.subscribersByChannel[channel]; ok {
		delete(channelConnections, connectionId)
		if len(channelConnections) == 0 {
			delete(r.subscribersByChannel, channel)
		}
	}
}

// Disconnect detaches the connection and returns the channels it was still
// subscribed to, so the caller can drive presence deregistration for each.
func (r *ConnectionRegistry) Disconnect(connectionId string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	connection, ok := r.connections[connectionId]
	if !ok {
		return nil
	}

	var channels []string
	for channel := range r.channelsByConnection[connectionId] {
		channels = append(channels, channel)

		channelConnections := r.subscribersByChannel[channel]
		delete(channelConnections, connectionId)
		if len(channelConnections) == 0 {
			delete(r.subscribersByChannel, channel)
		}
	}

	delete(r.channelsByConnection, connectionId)
	delete(r.connections, connectionId)
	connection.Close()

	return channels
}

// Broadcast queues the event on every subscriber of its channel. Connections
// whose send buffer is full are closed; their teardown path runs the usual
// disconnect cleanup.
func (r *ConnectionRegistry) Broadcast(event Event) {
	r.mu.RLock()

	connectionIds, ok := r.subscribersByChannel[event.Channel]
	if !ok {
		r.mu.RUnlock()

		return
	}

	var stale []*Connection

	for connectionId := range connectionIds {
		connection, ok := r.connections[connectionId]
		if !ok {
			continue
		}

		select {
		case connection.Send <- event:
		default:
			r.logger.Warn("connection send buffer full, closing connection",
				zap.String("connectionId", connection.Id))

			stale = append(stale, connection)
		}
	}

	r.mu.RUnlock()

	for _, connection := range stale {
		connection.Close()
	}
}

// IsConnectionAlive implements presence.LivenessOracle.
func (r *ConnectionRegistry) IsConnectionAlive(_ context.Context, connectionId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.connections[connectionId]

	return ok
}
