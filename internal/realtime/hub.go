// Package realtime fans queue changes out to WebSocket subscribers.
//
// Subscriptions are per date. A publish for (doctor, date) rebuilds the
// snapshot of that date once and enqueues it to every subscriber of the
// date; each client drains its own queue, so a slow or dead connection
// never holds up the publisher or the other clients.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"backend-klinik/internal/clock"
	"backend-klinik/internal/models"
)

type Options struct {
	// Debounce coalesces publishes for the same date; 0 broadcasts on every
	// publish.
	Debounce     time.Duration
	SendBuffer   int
	BuildTimeout time.Duration
}

type Hub struct {
	source SnapshotSource
	clock  clock.Clock
	opts   Options
	logger zerolog.Logger

	mu        sync.RWMutex
	clients   map[*Client]struct{}
	byDate    map[models.Date]map[*Client]struct{}
	dateLocks map[models.Date]*dateLock
	closed    bool

	timerMu sync.Mutex
	timers  map[models.Date]*time.Timer

	wg sync.WaitGroup
}

func NewHub(source SnapshotSource, clk clock.Clock, opts Options, logger zerolog.Logger) *Hub {
	if clk == nil {
		clk = clock.Real()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 16
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = 5 * time.Second
	}
	return &Hub{
		source:    source,
		clock:     clk,
		opts:      opts,
		logger:    logger.With().Str("component", "realtime").Logger(),
		clients:   map[*Client]struct{}{},
		byDate:    map[models.Date]map[*Client]struct{}{},
		dateLocks: map[models.Date]*dateLock{},
		timers:    map[models.Date]*time.Timer{},
	}
}

/*
|--------------------------------------------------------------------------
| Client Registry
|--------------------------------------------------------------------------
*/

// Register adds conn and starts its writer goroutine.
func (h *Hub) Register(conn Conn) *Client {
	c := newClient(conn, h, h.opts.SendBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.shutdown()
		return c
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		c.writeLoop()
	}()

	h.logger.Info().Str("client", c.ID()).Int("total", total).Msg("client registered")
	return c
}

// Unregister removes c from every subscription and closes its transport.
// Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, exists := h.clients[c]
	delete(h.clients, c)
	h.removeFromDateLocked(c, c.Date())
	total := len(h.clients)
	h.mu.Unlock()

	if c.shutdown() && exists {
		h.logger.Info().Str("client", c.ID()).Int("total", total).Msg("client unregistered")
	}
}

func (h *Hub) removeFromDateLocked(c *Client, date models.Date) {
	if date == "" {
		return
	}
	if subs, ok := h.byDate[date]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.byDate, date)
		}
	}
}

// dateLock orders snapshot builds and enqueues for one date. The entry lives
// only while someone holds or waits on it.
type dateLock struct {
	sync.Mutex
	refs int
}

// lockDate blocks until the caller owns date; the returned func releases it.
func (h *Hub) lockDate(date models.Date) func() {
	h.mu.Lock()
	l, ok := h.dateLocks[date]
	if !ok {
		l = &dateLock{}
		h.dateLocks[date] = l
	}
	l.refs++
	h.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		h.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(h.dateLocks, date)
		}
		h.mu.Unlock()
	}
}

// Subscribe points c at date, replacing any earlier subscription, and
// queues the current snapshot before any later update for that date.
func (h *Hub) Subscribe(ctx context.Context, c *Client, date models.Date) error {
	unlock := h.lockDate(date)
	defer unlock()

	snap, err := h.build(ctx, date)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return errClientGone
	}
	h.removeFromDateLocked(c, c.Date())
	subs, ok := h.byDate[date]
	if !ok {
		subs = map[*Client]struct{}{}
		h.byDate[date] = subs
	}
	subs[c] = struct{}{}
	c.setDate(date)
	total := len(subs)
	h.mu.Unlock()

	c.enqueue(snapshotMessage(date, &snap))

	h.logger.Info().
		Str("client", c.ID()).
		Str("date", date.String()).
		Int("subscribers", total).
		Msg("client subscribed")
	return nil
}

// Unsubscribe drops c's subscription. Returns false when it had none.
func (h *Hub) Unsubscribe(c *Client) bool {
	h.mu.Lock()
	date := c.Date()
	h.removeFromDateLocked(c, date)
	c.setDate("")
	h.mu.Unlock()

	if date == "" {
		return false
	}
	h.logger.Info().Str("client", c.ID()).Str("date", date.String()).Msg("client unsubscribed")
	return true
}

// Subscribers counts clients watching date.
func (h *Hub) Subscribers(date models.Date) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byDate[date])
}

// Clients counts registered connections.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

/*
|--------------------------------------------------------------------------
| Broadcast
|--------------------------------------------------------------------------
*/

// Publish schedules a snapshot push to subscribers of date. It never blocks.
func (h *Hub) Publish(doctorID string, date models.Date) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.wg.Add(1)
	h.mu.RUnlock()

	if h.opts.Debounce <= 0 {
		go func() {
			defer h.wg.Done()
			h.broadcast(date)
		}()
		return
	}

	h.timerMu.Lock()
	defer h.timerMu.Unlock()
	if _, pending := h.timers[date]; pending {
		h.wg.Done()
		return
	}
	h.timers[date] = time.AfterFunc(h.opts.Debounce, func() {
		defer h.wg.Done()
		h.timerMu.Lock()
		delete(h.timers, date)
		h.timerMu.Unlock()

		h.broadcast(date)
	})
}

func (h *Hub) broadcast(date models.Date) {
	unlock := h.lockDate(date)
	defer unlock()

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.byDate[date]))
	for c := range h.byDate[date] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	snap, err := h.build(context.Background(), date)
	if err != nil {
		h.logger.Error().Err(err).Str("date", date.String()).Msg("snapshot build failed")
		return
	}
	payload := encode(Outbound{Type: TypeUpdate, Data: &snap})

	for _, c := range targets {
		c.enqueue(updateMessage(date, &snap, payload))
	}

	h.logger.Debug().
		Str("date", date.String()).
		Int("subscribers", len(targets)).
		Msg("queue update broadcast")
}

func (h *Hub) build(ctx context.Context, date models.Date) (models.QueueSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.BuildTimeout)
	defer cancel()
	return h.source.Build(ctx, date)
}

/*
|--------------------------------------------------------------------------
| Control Messages
|--------------------------------------------------------------------------
*/

var errClientGone = errors.New("client no longer registered")

// HandleMessage applies one inbound control message from c. Bad input is
// answered with an error message; the connection stays open.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		h.Reply(c, Outbound{Type: TypeError, Message: "Invalid JSON message"})
		return
	}

	switch in.Action {
	case ActionSubscribe:
		if in.Date == "" {
			h.Reply(c, Outbound{Type: TypeError, Message: "Missing 'date' field in subscribe message"})
			return
		}
		date, err := models.ParseDate(in.Date)
		if err != nil {
			h.Reply(c, Outbound{Type: TypeError, Message: "Invalid date format. Use YYYY-MM-DD"})
			return
		}
		if err := h.Subscribe(ctx, c, date); err != nil {
			if !errors.Is(err, errClientGone) {
				h.logger.Error().Err(err).Str("client", c.ID()).Msg("subscribe failed")
				h.Reply(c, Outbound{Type: TypeError, Message: "Failed to load queue snapshot"})
			}
		}

	case ActionUnsubscribe:
		if h.Unsubscribe(c) {
			h.Reply(c, Outbound{Type: TypeUnsubscribed, Message: "Successfully unsubscribed"})
			return
		}
		h.Reply(c, Outbound{Type: TypeError, Message: "Not subscribed"})

	case ActionPing:
		h.Reply(c, Outbound{Type: TypePong, Timestamp: h.clock.Now().UTC().Format(time.RFC3339Nano)})

	default:
		h.Reply(c, Outbound{Type: TypeError, Message: "Unknown action: " + in.Action})
	}
}

// Reply queues a direct message for c.
func (h *Hub) Reply(c *Client, m Outbound) {
	c.enqueue(outbound{kind: m.Type, payload: encode(m)})
}

// Close stops pending broadcasts and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	h.timerMu.Lock()
	for date, t := range h.timers {
		if t.Stop() {
			h.wg.Done()
		}
		delete(h.timers, date)
	}
	h.timerMu.Unlock()

	for _, c := range clients {
		h.Unregister(c)
	}
	h.wg.Wait()
	h.logger.Info().Int("clients", len(clients)).Msg("hub closed")
}
