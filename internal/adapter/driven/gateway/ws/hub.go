package ws

import (
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog"
)

// Hub tracks every live relay connection so they can be closed together on
// shutdown.
type Hub struct {
	conns      map[domain.ConnID]domain.Endpoint
	register   chan domain.Endpoint
	unregister chan domain.Endpoint
	count      chan chan int
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	logger     zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		conns:      make(map[domain.ConnID]domain.Endpoint),
		register:   make(chan domain.Endpoint),
		unregister: make(chan domain.Endpoint),
		count:      make(chan chan int),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			for id, ep := range h.conns {
				if err := ep.Close(); err != nil {
					h.logger.Error().Err(err).Str("client_id", id.String()).Msg("Error closing connection")
				}
				delete(h.conns, id)
			}
			return

		case ep := <-h.register:
			h.conns[ep.ID()] = ep
			h.logger.Debug().Int("count", len(h.conns)).Str("client_id", ep.ID().String()).Msg("Connection registered")

		case ep := <-h.unregister:
			if _, ok := h.conns[ep.ID()]; ok {
				delete(h.conns, ep.ID())
				h.logger.Debug().Int("count", len(h.conns)).Str("client_id", ep.ID().String()).Msg("Connection unregistered")
			}

		case reply := <-h.count:
			reply <- len(h.conns)
		}
	}
}

// Register reports false once the hub is stopping; the caller should drop
// the connection.
func (h *Hub) Register(ep domain.Endpoint) bool {
	select {
	case h.register <- ep:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) Unregister(ep domain.Endpoint) {
	select {
	case h.unregister <- ep:
	case <-h.quit:
	}
}

func (h *Hub) Count() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.quit:
		return 0
	}
}

// Stop closes every registered connection and waits for Run to return.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	<-h.done
}
