package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/metrics"
)

// ErrHubStopped is returned when a frame is offered to a hub that has shut down.
var ErrHubStopped = errors.New("hub stopped")

// Hub owns the live websocket clients, keyed by connection id. Its run loop
// is the only caller of the FrameHandler, which keeps room and presence
// updates strictly ordered.
type Hub struct {
	clients    map[string]*Client
	handler    FrameHandler
	inbound    chan inboundFrame
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewHub creates a Hub. Call SetHandler before Run to receive client frames.
func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		handler:    nopHandler{},
		inbound:    make(chan inboundFrame),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		metrics:    m,
		logger:     logger,
	}
}

// SetHandler installs the frame handler. It must be called before Run.
func (h *Hub) SetHandler(handler FrameHandler) {
	h.handler = handler
}

// Register hands a freshly upgraded client to the run loop, which starts its
// pumps.
func (h *Hub) Register(ctx context.Context, client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast queues frame for every registered client.
func (h *Hub) Broadcast(ctx context.Context, frame []byte) error {
	select {
	case h.broadcast <- frame:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendTo queues frame for the listed connections. Clients whose buffer is
// full are dropped. It never blocks and is safe to call from the handler.
func (h *Hub) SendTo(connIDs []string, frame []byte) {
	h.mutex.RLock()
	targets := make([]*Client, 0, len(connIDs))
	for _, id := range connIDs {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mutex.RUnlock()

	var failed []*Client
	for _, c := range targets {
		if !h.safeSend(c, frame) {
			failed = append(failed, c)
		}
	}
	h.removeFailedClients(failed)
}

// ClientCount reports the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in safeSend", zap.Any("panic", r))
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client.id]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// dispatch queues a client frame for the run loop.
func (h *Hub) dispatch(client *Client, payload []byte) bool {
	select {
	case h.inbound <- inboundFrame{client: client, payload: payload}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// leave queues client for unregistration.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Run starts the hub's main event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case frame := <-h.inbound:
			if h.isRegistered(frame.client) {
				h.handler.Handle(frame.client.id, frame.payload)
			}

		case frame := <-h.broadcast:
			h.handleBroadcast(frame)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.metrics.SetConnections(clientCount)
	h.logger.Info("client registered",
		zap.String("conn_id", client.id),
		zap.String("remote_addr", client.addr),
		zap.String("user_id", client.user.ID),
		zap.Int("clients", clientCount))

	h.handler.Connect(client.id, client.user)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// removeClient unregisters client. Presence is cleared even when the client
// was already dropped for a full buffer.
func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	current, ok := h.clients[client.id]
	if ok && current == client {
		delete(h.clients, client.id)
		client.closed = true
		clientCount := len(h.clients)
		h.mutex.Unlock()
		close(client.send)
		h.metrics.SetConnections(clientCount)
		h.logger.Info("client unregistered",
			zap.String("conn_id", client.id),
			zap.String("remote_addr", client.addr),
			zap.Int("clients", clientCount))
	} else {
		h.mutex.Unlock()
	}

	h.handler.Disconnect(client.id)
}

func (h *Hub) isRegistered(client *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	current, ok := h.clients[client.id]
	return ok && current == client
}

// handleBroadcast sends frame to every client and drops the ones that cannot keep up.
func (h *Hub) handleBroadcast(frame []byte) {
	clients := h.getClientSnapshot()
	h.logger.Debug("broadcasting frame", zap.Int("clients", len(clients)))

	var failed []*Client
	for _, client := range clients {
		if !h.safeSend(client, frame) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients removes clients that failed to receive messages and
// closes their channels. Their read pumps will unregister them, which is
// when presence is cleared.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if current, exists := h.clients[client.id]; exists && current == client {
			delete(h.clients, client.id)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			h.logger.Warn("client removed due to full send buffer",
				zap.String("conn_id", client.id),
				zap.String("remote_addr", client.addr))
		}
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
	h.metrics.SetConnections(clientCount)
}

// shutdownClients closes every connection and forgets it, presence included.
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		client.closed = true
		clients = append(clients, client)
	}
	h.clients = make(map[string]*Client)
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.logger.Warn("error closing client connection",
					zap.String("conn_id", client.id), zap.Error(err))
			}
		}
		h.handler.Disconnect(client.id)
	}
	h.metrics.SetConnections(0)

	h.logger.Info("closed client connections", zap.Int("clients", len(clients)))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

type nopHandler struct{}

func (nopHandler) Connect(string, domain.Principal) {}
func (nopHandler) Handle(string, []byte)            {}
func (nopHandler) Disconnect(string)                {}
