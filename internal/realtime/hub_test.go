package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"backend-klinik/internal/clock"
	"backend-klinik/internal/models"
)

type fakeConn struct {
	id     string
	msgs   chan []byte
	block  chan struct{}
	fail   bool
	closed atomic.Bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, msgs: make(chan []byte, 64)}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) WriteMessage(data []byte) error {
	if f.block != nil {
		<-f.block
	}
	if f.fail {
		return errors.New("broken pipe")
	}
	f.msgs <- data
	return nil
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeConn) next(t *testing.T) Outbound {
	t.Helper()
	select {
	case raw := <-f.msgs:
		var m Outbound
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no message", f.id)
		return Outbound{}
	}
}

func (f *fakeConn) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case raw := <-f.msgs:
		t.Fatalf("%s: unexpected message %s", f.id, raw)
	case <-time.After(wait):
	}
}

type countingSource struct {
	builds atomic.Int64
}

func (s *countingSource) Build(_ context.Context, date models.Date) (models.QueueSnapshot, error) {
	n := s.builds.Add(1)
	return models.QueueSnapshot{Date: date, TotalAppointments: int(n), Doctors: []models.DoctorSchedule{}}, nil
}

func newTestHub(t *testing.T, debounce time.Duration) (*Hub, *countingSource) {
	t.Helper()
	src := &countingSource{}
	clk := clock.Fake(time.Date(2025, 11, 15, 8, 0, 0, 0, time.UTC))
	h := NewHub(src, clk, Options{Debounce: debounce, SendBuffer: 8}, zerolog.Nop())
	t.Cleanup(h.Close)
	return h, src
}

const (
	dayT     = models.Date("2025-11-15")
	dayOther = models.Date("2025-11-16")
)

func TestSubscribeSendsSnapshotFirst(t *testing.T) {
	h, _ := newTestHub(t, 0)
	conn := newFakeConn("a")
	c := h.Register(conn)

	if err := h.Subscribe(context.Background(), c, dayT); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	h.Publish("doc-1", dayT)

	first := conn.next(t)
	if first.Type != TypeSnapshot || first.Data == nil || first.Data.Date != dayT {
		t.Fatalf("first = %+v", first)
	}
	second := conn.next(t)
	if second.Type != TypeUpdate {
		t.Fatalf("second = %+v", second)
	}
	if second.Data.TotalAppointments <= first.Data.TotalAppointments {
		t.Fatalf("update should be newer than snapshot")
	}
}

func TestPublishFansOutByDate(t *testing.T) {
	h, _ := newTestHub(t, 0)
	ctx := context.Background()

	a, b, other := newFakeConn("a"), newFakeConn("b"), newFakeConn("other")
	for conn, date := range map[*fakeConn]models.Date{a: dayT, b: dayT, other: dayOther} {
		if err := h.Subscribe(ctx, h.Register(conn), date); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		if m := conn.next(t); m.Type != TypeSnapshot {
			t.Fatalf("want snapshot, got %+v", m)
		}
	}

	h.Publish("doc-1", dayT)

	for _, conn := range []*fakeConn{a, b} {
		m := conn.next(t)
		if m.Type != TypeUpdate || m.Data.Date != dayT {
			t.Fatalf("%s got %+v", conn.id, m)
		}
	}
	other.expectNone(t, 100*time.Millisecond)
}

// holdWriter parks c's writer goroutine inside a write so that messages
// queued afterwards stay queued until the returned func is called.
func holdWriter(t *testing.T, h *Hub, conn *fakeConn, c *Client) func() {
	t.Helper()
	release := sync.OnceFunc(func() { close(conn.block) })
	t.Cleanup(release)

	h.Reply(c, Outbound{Type: TypePong})
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.queue) == 0
	})
	return release
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResubscribeReplacesDate(t *testing.T) {
	h, _ := newTestHub(t, 0)
	ctx := context.Background()
	conn := newFakeConn("a")
	conn.block = make(chan struct{})
	c := h.Register(conn)
	release := holdWriter(t, h, conn, c)

	_ = h.Subscribe(ctx, c, dayT)
	_ = h.Subscribe(ctx, c, dayOther)
	release()

	if m := conn.next(t); m.Type != TypePong {
		t.Fatalf("got %+v", m)
	}
	// the snapshot for the abandoned date is never written
	if m := conn.next(t); m.Type != TypeSnapshot || m.Data.Date != dayOther {
		t.Fatalf("got %+v", m)
	}
	conn.expectNone(t, 100*time.Millisecond)

	if h.Subscribers(dayT) != 0 || h.Subscribers(dayOther) != 1 {
		t.Fatalf("subscribers T=%d other=%d", h.Subscribers(dayT), h.Subscribers(dayOther))
	}

	h.Publish("doc-1", dayT)
	conn.expectNone(t, 100*time.Millisecond)

	h.Publish("doc-1", dayOther)
	if m := conn.next(t); m.Type != TypeUpdate || m.Data.Date != dayOther {
		t.Fatalf("got %+v", m)
	}
}

func TestResubscribeAfterSnapshotDelivered(t *testing.T) {
	h, _ := newTestHub(t, 0)
	ctx := context.Background()
	conn := newFakeConn("a")
	c := h.Register(conn)

	_ = h.Subscribe(ctx, c, dayT)
	if m := conn.next(t); m.Type != TypeSnapshot || m.Data.Date != dayT {
		t.Fatalf("got %+v", m)
	}
	_ = h.Subscribe(ctx, c, dayOther)
	if m := conn.next(t); m.Type != TypeSnapshot || m.Data.Date != dayOther {
		t.Fatalf("got %+v", m)
	}
	conn.expectNone(t, 100*time.Millisecond)
}

func TestFullQueueKeepsSnapshotFirst(t *testing.T) {
	src := &countingSource{}
	h := NewHub(src, clock.Fake(time.Date(2025, 11, 15, 8, 0, 0, 0, time.UTC)), Options{SendBuffer: 1}, zerolog.Nop())
	t.Cleanup(h.Close)

	conn := newFakeConn("slow")
	conn.block = make(chan struct{})
	c := h.Register(conn)
	release := holdWriter(t, h, conn, c)

	_ = h.Subscribe(context.Background(), c, dayT)
	h.Publish("doc-1", dayT)
	waitFor(t, func() bool { return c.Dropped() == 1 })
	release()

	if m := conn.next(t); m.Type != TypePong {
		t.Fatalf("got %+v", m)
	}
	m := conn.next(t)
	if m.Type != TypeSnapshot || m.Data == nil || m.Data.TotalAppointments != 2 {
		t.Fatalf("first queue message = %+v, want the newer state as snapshot", m)
	}
	conn.expectNone(t, 100*time.Millisecond)
}

func TestEnqueueEviction(t *testing.T) {
	h, _ := newTestHub(t, 0)
	older := &models.QueueSnapshot{Date: dayT, TotalAppointments: 1}
	newer := &models.QueueSnapshot{Date: dayT, TotalAppointments: 2}
	other := &models.QueueSnapshot{Date: dayOther}

	kinds := func(c *Client) []string {
		var out []string
		for _, q := range c.queue {
			out = append(out, q.kind)
		}
		return out
	}

	t.Run("updates go before the pending snapshot", func(t *testing.T) {
		c := newClient(newFakeConn("x"), h, 2)
		c.setDate(dayT)
		c.enqueue(snapshotMessage(dayT, older))
		c.enqueue(updateMessage(dayT, older, nil))
		c.enqueue(updateMessage(dayT, newer, nil))

		if got := kinds(c); len(got) != 2 || got[0] != TypeSnapshot || got[1] != TypeUpdate {
			t.Fatalf("queue = %v", got)
		}
		if c.queue[1].data != newer || c.Dropped() != 1 {
			t.Fatalf("kept %+v dropped %d", c.queue[1].data, c.Dropped())
		}
	})

	t.Run("newer state replaces a lone snapshot", func(t *testing.T) {
		c := newClient(newFakeConn("x"), h, 1)
		c.setDate(dayT)
		c.enqueue(snapshotMessage(dayT, older))
		if !c.enqueue(updateMessage(dayT, newer, nil)) {
			t.Fatalf("update rejected")
		}

		var m Outbound
		if err := json.Unmarshal(c.queue[0].payload, &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(c.queue) != 1 || m.Type != TypeSnapshot || m.Data.TotalAppointments != 2 {
			t.Fatalf("queue head = %+v", m)
		}
	})

	t.Run("reply is dropped instead of the snapshot", func(t *testing.T) {
		c := newClient(newFakeConn("x"), h, 1)
		c.setDate(dayT)
		c.enqueue(snapshotMessage(dayT, older))
		if c.enqueue(outbound{kind: TypePong, payload: encode(Outbound{Type: TypePong})}) {
			t.Fatalf("reply should not fit")
		}
		if got := kinds(c); len(got) != 1 || got[0] != TypeSnapshot || c.Dropped() != 1 {
			t.Fatalf("queue = %v dropped %d", got, c.Dropped())
		}
	})

	t.Run("snapshot of an abandoned date goes first", func(t *testing.T) {
		c := newClient(newFakeConn("x"), h, 2)
		c.setDate(dayT)
		c.enqueue(snapshotMessage(dayT, older))
		c.setDate(dayOther)
		c.enqueue(snapshotMessage(dayOther, other))
		c.enqueue(updateMessage(dayOther, other, nil))

		if len(c.queue) != 2 || c.queue[0].date != dayOther || c.queue[0].kind != TypeSnapshot {
			t.Fatalf("queue = %v", kinds(c))
		}
	})
}

func TestDateLocksReleased(t *testing.T) {
	h, _ := newTestHub(t, 0)
	ctx := context.Background()
	c := h.Register(newFakeConn("a"))

	for day := 1; day <= 20; day++ {
		date := models.Date(fmt.Sprintf("2025-12-%02d", day))
		if err := h.Subscribe(ctx, c, date); err != nil {
			t.Fatalf("subscribe %s: %v", date, err)
		}
		h.Publish("doc-1", date)
		h.Publish("doc-1", dayT)
	}
	h.Close()

	h.mu.RLock()
	n := len(h.dateLocks)
	h.mu.RUnlock()
	if n != 0 {
		t.Fatalf("date locks left behind: %d", n)
	}
}

func TestHandleMessage(t *testing.T) {
	h, _ := newTestHub(t, 0)
	ctx := context.Background()
	conn := newFakeConn("a")
	c := h.Register(conn)

	cases := []struct {
		name    string
		raw     string
		msgType string
		message string
	}{
		{"invalid json", `{not json`, TypeError, "Invalid JSON message"},
		{"unknown action", `{"action":"dance"}`, TypeError, "Unknown action: dance"},
		{"missing date", `{"action":"subscribe"}`, TypeError, "Missing 'date' field in subscribe message"},
		{"bad date", `{"action":"subscribe","date":"15-11-2025"}`, TypeError, "Invalid date format. Use YYYY-MM-DD"},
		{"unsubscribe without subscription", `{"action":"unsubscribe"}`, TypeError, "Not subscribed"},
		{"ping", `{"action":"ping"}`, TypePong, ""},
		{"subscribe", `{"action":"subscribe","date":"2025-11-15"}`, TypeSnapshot, ""},
		{"unsubscribe", `{"action":"unsubscribe"}`, TypeUnsubscribed, "Successfully unsubscribed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h.HandleMessage(ctx, c, []byte(tc.raw))
			m := conn.next(t)
			if m.Type != tc.msgType {
				t.Fatalf("type = %q, want %q", m.Type, tc.msgType)
			}
			if tc.message != "" && m.Message != tc.message {
				t.Fatalf("message = %q, want %q", m.Message, tc.message)
			}
			if tc.msgType == TypePong && m.Timestamp == "" {
				t.Fatalf("pong without timestamp")
			}
		})
	}

	if conn.closed.Load() {
		t.Fatalf("bad messages must not close the connection")
	}
	if h.Subscribers(dayT) != 0 {
		t.Fatalf("unsubscribe left a subscription behind")
	}
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	h, _ := newTestHub(t, 0)
	ctx := context.Background()

	slow := newFakeConn("slow")
	slow.block = make(chan struct{})
	fast := newFakeConn("fast")

	cs := h.Register(slow)
	cf := h.Register(fast)
	_ = h.Subscribe(ctx, cs, dayT)
	_ = h.Subscribe(ctx, cf, dayT)
	fast.next(t)

	start := time.Now()
	for i := 0; i < 50; i++ {
		h.Publish("doc-1", dayT)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("publish blocked")
	}

	if m := fast.next(t); m.Type != TypeUpdate {
		t.Fatalf("fast got %+v", m)
	}

	deadline := time.Now().Add(2 * time.Second)
	for cs.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if cs.Dropped() == 0 {
		t.Fatalf("slow client queue should have dropped old messages")
	}
	close(slow.block)
}

func TestWriteErrorRemovesClient(t *testing.T) {
	h, _ := newTestHub(t, 0)
	conn := newFakeConn("broken")
	conn.fail = true
	c := h.Register(conn)

	_ = h.Subscribe(context.Background(), c, dayT)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("client not removed after write error")
	}
	if h.Clients() != 0 || h.Subscribers(dayT) != 0 {
		t.Fatalf("clients=%d subscribers=%d", h.Clients(), h.Subscribers(dayT))
	}
	if !conn.closed.Load() {
		t.Fatalf("transport not closed")
	}
}

func TestDebounceCoalesces(t *testing.T) {
	h, src := newTestHub(t, 30*time.Millisecond)
	conn := newFakeConn("a")
	c := h.Register(conn)
	_ = h.Subscribe(context.Background(), c, dayT)
	conn.next(t)

	before := src.builds.Load()
	for i := 0; i < 10; i++ {
		h.Publish("doc-1", dayT)
	}

	if m := conn.next(t); m.Type != TypeUpdate {
		t.Fatalf("got %+v", m)
	}
	conn.expectNone(t, 100*time.Millisecond)
	if got := src.builds.Load() - before; got != 1 {
		t.Fatalf("builds = %d, want 1", got)
	}
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	h, _ := newTestHub(t, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	conns := make([]*fakeConn, 10)
	for i := range conns {
		conns[i] = newFakeConn("c")
		c := h.Register(conns[i])
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = h.Subscribe(ctx, c, dayT)
		}()
		go func() {
			defer wg.Done()
			h.Publish("doc-1", dayT)
		}()
	}
	wg.Wait()

	for _, conn := range conns {
		if m := conn.next(t); m.Type != TypeSnapshot {
			t.Fatalf("first message must be the snapshot, got %q", m.Type)
		}
	}
}
