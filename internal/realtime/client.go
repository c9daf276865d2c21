package realtime

import (
	"sync"

	"backend-klinik/internal/models"
)

// Conn is the transport handle of one subscriber. WriteMessage is only ever
// called from the client's own writer goroutine.
type Conn interface {
	ID() string
	WriteMessage(data []byte) error
	Close() error
}

type outbound struct {
	kind string
	// date is set for snapshot/update payloads; they are skipped when the
	// client has moved to another date before the write happens.
	date    models.Date
	data    *models.QueueSnapshot
	payload []byte
}

func snapshotMessage(date models.Date, snap *models.QueueSnapshot) outbound {
	return outbound{kind: TypeSnapshot, date: date, data: snap, payload: encode(Outbound{Type: TypeSnapshot, Data: snap})}
}

func updateMessage(date models.Date, snap *models.QueueSnapshot, payload []byte) outbound {
	return outbound{kind: TypeUpdate, date: date, data: snap, payload: payload}
}

// Client is a registered connection with its own bounded send queue.
type Client struct {
	conn  Conn
	hub   *Hub
	limit int

	mu      sync.Mutex
	queue   []outbound
	date    models.Date
	closed  bool
	dropped uint64

	wake chan struct{}
	done chan struct{}
}

func newClient(conn Conn, hub *Hub, limit int) *Client {
	if limit <= 0 {
		limit = 1
	}
	return &Client{
		conn:  conn,
		hub:   hub,
		limit: limit,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.conn.ID() }

// Date returns the subscribed date, "" when not subscribed.
func (c *Client) Date() models.Date {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.date
}

// Done is closed once the client is unregistered.
func (c *Client) Done() <-chan struct{} { return c.done }

// Dropped counts messages discarded because the queue was full.
func (c *Client) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Client) setDate(d models.Date) {
	c.mu.Lock()
	c.date = d
	c.mu.Unlock()
}

// enqueue never blocks. When the queue is full one message is dropped: the
// oldest one that is not the pending snapshot of the current date. Every
// snapshot/update is a full state, so a newer one supersedes what went.
func (c *Client) enqueue(m outbound) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if len(c.queue) >= c.limit {
		c.dropped++
		if i := c.evictable(); i >= 0 {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
		} else if m.data != nil && m.date == c.date {
			// only the unsent snapshot is queued; the newer state replaces
			// it and goes out as the snapshot
			c.queue = c.queue[1:]
			if m.kind != TypeSnapshot {
				m = snapshotMessage(m.date, m.data)
			}
		} else {
			c.mu.Unlock()
			return false
		}
	}
	c.queue = append(c.queue, m)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// evictable returns the index of the oldest queued message that may be
// dropped, -1 when only snapshots of the current date are queued.
func (c *Client) evictable() int {
	for i, q := range c.queue {
		if q.kind != TypeSnapshot || q.date != c.date {
			return i
		}
	}
	return -1
}

func (c *Client) next() (outbound, models.Date, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return outbound{}, "", false
	}
	m := c.queue[0]
	c.queue[0] = outbound{}
	c.queue = c.queue[1:]
	return m, c.date, true
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		for {
			m, current, ok := c.next()
			if !ok {
				break
			}
			if m.date != "" && m.date != current {
				continue
			}
			if err := c.conn.WriteMessage(m.payload); err != nil {
				c.hub.logger.Warn().Err(err).Str("client", c.ID()).Msg("write error, removing client")
				c.hub.Unregister(c)
				return
			}
		}
	}
}

// shutdown marks the client closed and closes the transport once.
func (c *Client) shutdown() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.queue = nil
	c.date = ""
	c.mu.Unlock()

	close(c.done)
	_ = c.conn.Close()
	return true
}
