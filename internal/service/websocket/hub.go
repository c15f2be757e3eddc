package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"orionserver/internal/logger"
)

// Role partitions connections into the two audiences.
type Role string

const (
	RoleProducer Role = "producer"
	RoleObserver Role = "observer"
)

// Transport is the part of *websocket.Conn the hub writes to.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type client struct {
	id        string
	role      Role
	transport Transport
	connected time.Time
	writeMu   sync.Mutex
}

func (c *client) write(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		if err := c.transport.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return c.transport.WriteMessage(websocket.TextMessage, data)
}

// Stats is a snapshot of hub counters.
type Stats struct {
	Producers    int    `json:"producers"`
	Observers    int    `json:"observers"`
	MessagesSent uint64 `json:"messages_sent"`
	SendFailures uint64 `json:"send_failures"`
}

// HubService owns every live connection handle. Handles are only reached
// through its methods.
type HubService struct {
	clients      map[string]*client
	counts       map[Role]int
	writeTimeout time.Duration
	mutex        sync.RWMutex
	logger       *logger.Logger

	messagesSent uint64
	sendFailures uint64
}

func NewHubService(writeTimeout time.Duration, logger *logger.Logger) *HubService {
	return &HubService{
		clients:      make(map[string]*client),
		counts:       make(map[Role]int),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Register stores the transport under a fresh client id prefixed by its role.
func (h *HubService) Register(role Role, transport Transport) string {
	id := fmt.Sprintf("%s_%s", role, uuid.NewString()[:8])

	h.mutex.Lock()
	h.clients[id] = &client{id: id, role: role, transport: transport, connected: time.Now()}
	h.counts[role]++
	total := len(h.clients)
	h.mutex.Unlock()

	h.logger.Info("Client %s connected (%s). Total: %d", id, role, total)
	return id
}

// Unregister closes and forgets the client. It reports whether the id was known.
func (h *HubService) Unregister(clientID string) bool {
	h.mutex.Lock()
	c, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
		h.counts[c.role]--
	}
	total := len(h.clients)
	h.mutex.Unlock()

	if !ok {
		return false
	}
	c.transport.Close()
	h.logger.Info("Client %s disconnected. Total: %d", clientID, total)
	return true
}

// Send writes message as JSON to one client. Unknown ids are ignored; a write
// failure unregisters the client. It reports whether the message was written.
func (h *HubService) Send(clientID string, message any) bool {
	h.mutex.RLock()
	c, ok := h.clients[clientID]
	h.mutex.RUnlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Error encoding message for %s: %v", clientID, err)
		return false
	}

	if err := c.write(data, h.writeTimeout); err != nil {
		h.logger.Error("Error sending message to %s: %v", clientID, err)
		h.countFailure()
		h.Unregister(clientID)
		return false
	}
	h.countSent(1)
	return true
}

// Broadcast writes message to every client of role and returns how many
// received it. Failed clients are unregistered after the iteration.
func (h *HubService) Broadcast(role Role, message any) int {
	targets := h.snapshot(role)
	if len(targets) == 0 {
		return 0
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Error encoding broadcast: %v", err)
		return 0
	}

	var failed []string
	delivered := 0
	for _, c := range targets {
		if err := c.write(data, h.writeTimeout); err != nil {
			h.logger.Error("Error broadcasting to %s: %v", c.id, err)
			failed = append(failed, c.id)
			continue
		}
		delivered++
	}
	h.countSent(delivered)

	for _, id := range failed {
		h.countFailure()
		h.Unregister(id)
	}
	return delivered
}

func (h *HubService) snapshot(role Role) []*client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	out := make([]*client, 0, h.counts[role])
	for _, c := range h.clients {
		if c.role == role {
			out = append(out, c)
		}
	}
	return out
}

func (h *HubService) countSent(n int) {
	h.mutex.Lock()
	h.messagesSent += uint64(n)
	h.mutex.Unlock()
}

func (h *HubService) countFailure() {
	h.mutex.Lock()
	h.sendFailures++
	h.mutex.Unlock()
}

// Has reports whether clientID is registered.
func (h *HubService) Has(clientID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.clients[clientID]
	return ok
}

// GetClientCount returns the number of clients of role.
func (h *HubService) GetClientCount(role Role) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.counts[role]
}

// Total returns the number of registered clients.
func (h *HubService) Total() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *HubService) Stats() Stats {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return Stats{
		Producers:    h.counts[RoleProducer],
		Observers:    h.counts[RoleObserver],
		MessagesSent: h.messagesSent,
		SendFailures: h.sendFailures,
	}
}

// CloseAll unregisters every client.
func (h *HubService) CloseAll() {
	h.mutex.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mutex.RUnlock()

	for _, id := range ids {
		h.Unregister(id)
	}
}
