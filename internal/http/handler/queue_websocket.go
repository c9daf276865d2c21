package handler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
)

var clientCounter atomic.Uint64

/*
|--------------------------------------------------------------------------
| Transport adapter
|--------------------------------------------------------------------------
*/

// wsConn adapts a fiber websocket to realtime.Conn. WriteMessage is only
// called by the hub's writer goroutine for this client; pings go through
// WriteControl which is safe alongside it.
type wsConn struct {
	conn         *websocket.Conn
	id           string
	writeTimeout time.Duration

	closeOnce sync.Once
}

func (w *wsConn) ID() string { return w.id }

func (w *wsConn) WriteMessage(data []byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.conn.Close()
	})
	return err
}

func (w *wsConn) ping() error {
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout))
}

/*
|--------------------------------------------------------------------------
| WebSocket Handler
|--------------------------------------------------------------------------
*/

// QueueWebSocket - /ws/queue. Client kirim {"action":"subscribe","date":...},
// server balas snapshot lalu update tiap ada booking/check-in di tanggal itu.
func (h *Handler) QueueWebSocket(c *websocket.Conn) {
	conn := &wsConn{
		conn:         c,
		id:           fmt.Sprintf("client-%d", clientCounter.Add(1)),
		writeTimeout: h.WriteTimeout,
	}
	log := h.logger.With().Str("client", conn.id).Logger()
	log.Info().Str("remote", c.RemoteAddr().String()).Msg("websocket connected")

	client := h.Hub.Register(conn)
	defer h.Hub.Unregister(client)

	// Koneksi yang diam lebih dari PongTimeout diputus.
	_ = c.SetReadDeadline(time.Now().Add(h.PongTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(h.PongTimeout))
	})

	go func() {
		ticker := time.NewTicker(h.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					log.Debug().Err(err).Msg("ping failed")
					h.Hub.Unregister(client)
					return
				}
			case <-client.Done():
				return
			}
		}
	}()

	ctx := context.Background()
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure,
			) {
				log.Warn().Err(err).Msg("websocket unexpected close")
			} else {
				log.Info().Msg("websocket closed")
			}
			return
		}
		_ = c.SetReadDeadline(time.Now().Add(h.PongTimeout))
		h.Hub.HandleMessage(ctx, client, msg)
	}
}
