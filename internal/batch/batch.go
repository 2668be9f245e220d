// Package batch coalesces client requests into JSON-RPC 2.0 batches,
// flushing on size, per-client timers, or explicit request.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/errors"
)

// Defaults applied when the corresponding config value is zero.
const (
	DefaultMaxBatchSize = 20
	DefaultBatchTimeout = 50 * time.Millisecond
)

// Transport delivers an encoded JSON-RPC batch to a client and returns the
// raw batch response.
type Transport interface {
	SendBatch(ctx context.Context, clientID string, payload []byte) ([]byte, error)
}

// rpcRequest is one entry of a JSON-RPC 2.0 batch. Ids are numeric on the
// wire.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is one entry of a JSON-RPC 2.0 batch response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response resolves a request future: the raw result or an error.
type Response struct {
	Result json.RawMessage
	Err    error
}

// Stats is a snapshot of manager counters.
type Stats struct {
	TotalRequests     int64
	TotalBatches      int64
	RegisteredClients int
	PendingRequests   int
	// BatchEfficiency is the fraction of requests that shared a batch with
	// at least one other request.
	BatchEfficiency float64
}

type pendingRequest struct {
	id     uint64
	method string
	params any
	future chan Response
}

type clientQueue struct {
	pending []*pendingRequest
	timer   *time.Timer
}

// Manager queues requests per client and flushes them as JSON-RPC batches.
type Manager struct {
	transport    Transport
	maxBatchSize int
	batchTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	queues  map[string]*clientQueue
	nextID  uint64
	closed  bool
	total   int64
	batches int64
	batched int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxBatchSize sets the flush threshold.
func WithMaxBatchSize(n int) Option {
	return func(m *Manager) { m.maxBatchSize = n }
}

// WithBatchTimeout sets the per-client flush timer.
func WithBatchTimeout(d time.Duration) Option {
	return func(m *Manager) { m.batchTimeout = d }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a batch manager over the given transport.
func NewManager(transport Transport, opts ...Option) (*Manager, error) {
	if transport == nil {
		return nil, errors.ValidationError("transport cannot be nil", "transport")
	}
	m := &Manager{
		transport:    transport,
		maxBatchSize: DefaultMaxBatchSize,
		batchTimeout: DefaultBatchTimeout,
		queues:       make(map[string]*clientQueue),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AddRequest queues a request for the client and returns its future. The
// queue flushes immediately when forced or full, otherwise when the
// client's batch timer fires.
func (m *Manager) AddRequest(ctx context.Context, method string, params any, clientID string, forceImmediate bool) <-chan Response {
	future := make(chan Response, 1)
	if method == "" {
		future <- Response{Err: errors.ValidationError("method cannot be empty", "method")}
		return future
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		future <- Response{Err: errors.StateError("batch manager is closed")}
		return future
	}

	m.nextID++
	req := &pendingRequest{
		id:     m.nextID,
		method: method,
		params: params,
		future: future,
	}
	m.total++

	q, ok := m.queues[clientID]
	if !ok {
		q = &clientQueue{}
		m.queues[clientID] = q
	}
	q.pending = append(q.pending, req)

	if forceImmediate || len(q.pending) >= m.maxBatchSize {
		batch := m.takeLocked(q)
		m.mu.Unlock()
		m.send(ctx, clientID, batch)
		return future
	}

	// (Re)arm the flush timer for this client.
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(m.batchTimeout, func() {
		m.flushClient(context.Background(), clientID)
	})
	m.mu.Unlock()
	return future
}

// takeLocked removes and returns the client's pending batch. Caller holds
// the lock.
func (m *Manager) takeLocked(q *clientQueue) []*pendingRequest {
	batch := q.pending
	q.pending = nil
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if len(batch) > 0 {
		m.batches++
		if len(batch) > 1 {
			m.batched += int64(len(batch))
		}
	}
	return batch
}

// flushClient drains one client's queue.
func (m *Manager) flushClient(ctx context.Context, clientID string) {
	m.mu.Lock()
	q, ok := m.queues[clientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	batch := m.takeLocked(q)
	m.mu.Unlock()

	m.send(ctx, clientID, batch)
}

// Flush drains every client's queue.
func (m *Manager) Flush(ctx context.Context) {
	m.mu.Lock()
	type drained struct {
		clientID string
		batch    []*pendingRequest
	}
	var all []drained
	for clientID, q := range m.queues {
		if batch := m.takeLocked(q); len(batch) > 0 {
			all = append(all, drained{clientID, batch})
		}
	}
	m.mu.Unlock()

	for _, d := range all {
		m.send(ctx, d.clientID, d.batch)
	}
}

// send serializes a batch, invokes the transport, and resolves each future
// by response id. A transport failure fans the same error out to every
// future in the batch.
func (m *Manager) send(ctx context.Context, clientID string, batch []*pendingRequest) {
	if len(batch) == 0 {
		return
	}

	wire := make([]rpcRequest, 0, len(batch))
	for _, req := range batch {
		wire = append(wire, rpcRequest{
			JSONRPC: "2.0",
			ID:      req.id,
			Method:  req.method,
			Params:  req.params,
		})
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		m.failAll(batch, errors.ValidationError("cannot encode batch: "+err.Error(), "params"))
		return
	}

	raw, err := m.transport.SendBatch(ctx, clientID, payload)
	if err != nil {
		m.logger.Warn("batch transport failed",
			"client_id", clientID, "batch_size", len(batch), "error", err)
		m.failAll(batch, err)
		return
	}

	var responses []rpcResponse
	if err := json.Unmarshal(raw, &responses); err != nil {
		m.failAll(batch, errors.New(errors.ErrCodeTransport, "cannot decode batch response", err))
		return
	}

	byID := make(map[uint64]rpcResponse, len(responses))
	for _, resp := range responses {
		byID[resp.ID] = resp
	}
	for _, req := range batch {
		resp, ok := byID[req.id]
		switch {
		case !ok:
			req.future <- Response{Err: errors.New(errors.ErrCodeTransport,
				fmt.Sprintf("no response for request %d", req.id), nil)}
		case resp.Error != nil:
			req.future <- Response{Err: errors.New(errors.ErrCodeProvider,
				fmt.Sprintf("remote error %d: %s", resp.Error.Code, resp.Error.Message), nil)}
		default:
			req.future <- Response{Result: resp.Result}
		}
	}
}

func (m *Manager) failAll(batch []*pendingRequest, err error) {
	for _, req := range batch {
		req.future <- Response{Err: err}
	}
}

// GetStats returns a snapshot of manager counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := 0
	for _, q := range m.queues {
		pending += len(q.pending)
	}
	var efficiency float64
	if m.total > 0 {
		efficiency = float64(m.batched) / float64(m.total)
	}
	return Stats{
		TotalRequests:     m.total,
		TotalBatches:      m.batches,
		RegisteredClients: len(m.queues),
		PendingRequests:   pending,
		BatchEfficiency:   efficiency,
	}
}

// Close flushes every queue and rejects further requests.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.Flush(ctx)
}
