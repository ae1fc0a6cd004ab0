package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/codec"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	errConnClosed   = errors.New("connection closed")
	errSlowConsumer = errors.New("send queue full")
)

// wsEndpoint is one relay participant connection. Writes happen only in
// writePump; Send just enqueues.
type wsEndpoint struct {
	id     domain.ConnID
	conn   *websocket.Conn
	codec  port.Codec
	send   chan domain.Message
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func (e *wsEndpoint) ID() domain.ConnID {
	return e.id
}

func (e *wsEndpoint) Send(msg domain.Message) error {
	select {
	case <-e.done:
		return errConnClosed
	default:
	}
	select {
	case e.send <- msg:
		return nil
	default:
		e.logger.Warn().Int("queue", cap(e.send)).Msg("Slow consumer, disconnecting")
		e.Close()
		return errSlowConsumer
	}
}

func (e *wsEndpoint) Close() error {
	e.once.Do(func() { close(e.done) })
	return nil
}

func (e *wsEndpoint) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		e.conn.Close()
	}()

	for {
		select {
		case msg := <-e.send:
			data, err := e.codec.Encode(msg)
			if err != nil {
				e.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("Failed to encode message")
				continue
			}
			e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := e.conn.WriteMessage(e.codec.FrameType(), data); err != nil {
				e.logger.Debug().Err(err).Msg("Write failed")
				return
			}

		case <-ticker.C:
			e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := e.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-e.done:
			e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			e.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    codec.Subprotocols,
		CheckOrigin:     checkOrigin(h.opts.AllowedOrigins),
	}
}

// checkOrigin allows every origin when allowed is empty.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
				return true
			}
		}
		return false
	}
}

// HTTP handler
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	id := domain.NewConnID()
	l := h.logger.With().Str("client_id", id.String()).Logger()

	ep := &wsEndpoint{
		id:     id,
		conn:   conn,
		codec:  codec.ForSubprotocol(conn.Subprotocol()),
		send:   make(chan domain.Message, h.opts.SendQueue),
		done:   make(chan struct{}),
		logger: l,
	}

	if !h.Hub.Register(ep) {
		conn.Close()
		return
	}
	l.Info().Str("codec", ep.codec.Name()).Str("remote", r.RemoteAddr).Msg("New client connected")

	go ep.writePump()

	defer func() {
		h.Relay.Disconnect(ep)
		h.Hub.Unregister(ep)
		ep.Close()
		l.Info().Msg("Client disconnected")
	}()

	conn.SetReadLimit(h.opts.MaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	limiter := rate.NewLimiter(h.opts.RateLimit, h.opts.RateBurst)
	ctx := r.Context()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}

		if !limiter.Allow() {
			h.Relay.Reject(ep, "", domain.ErrRateLimited)
			continue
		}

		msg, err := ep.codec.Decode(data)
		if err != nil {
			h.Relay.Reject(ep, "", err)
			continue
		}
		h.Relay.Handle(ctx, ep, msg)
	}
}
