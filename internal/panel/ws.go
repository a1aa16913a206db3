package panel

import (
	"context"
	"net/http"
	"time"

	"github.com/basket/clawdeck/internal/bus"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// wsMessage is the frame pushed to websocket clients for every bus
// event the panel mirrors.
type wsMessage struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload,omitempty"`
	Time    time.Time   `json:"time"`
}

type client struct {
	conn *websocket.Conn
}

// wsTopicPrefixes are the bus topics mirrored to connected clients.
var wsTopicPrefixes = []string{"gateway.", "config.", "skills.", "schedule.", "panel."}

// handleWS upgrades the connection and streams gateway, config, skill
// and schedule events until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Same-origin requests are always allowed by the websocket
		// library; the allowlist only opens additional origins.
		OriginPatterns: s.config().AllowOrigins,
	})
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.addClient(c)
	s.cfg.Logger.Info("ws: client connected", "clients", s.clientCount())
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.WSClients.Add(r.Context(), 1)
	}
	defer func() {
		s.removeClient(c)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.WSClients.Add(context.Background(), -1)
		}
		s.cfg.Logger.Info("ws: client disconnecting")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Merge all subscriptions into one channel for the write loop.
	merged := make(chan bus.Event, 16)
	if s.cfg.Bus != nil {
		for _, prefix := range wsTopicPrefixes {
			sub := s.cfg.Bus.Subscribe(prefix)
			defer s.cfg.Bus.Unsubscribe(sub)
			go func(sub *bus.Subscription) {
				for {
					select {
					case <-ctx.Done():
						return
					case ev := <-sub.Ch():
						select {
						case merged <- ev:
						case <-ctx.Done():
							return
						}
					}
				}
			}(sub)
		}
	}

	// Reads only detect disconnect; the panel has no client-to-server
	// protocol over the socket.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	// Initial status snapshot so clients render without a poll.
	st := s.cfg.Supervisor.Status()
	if err := wsjson.Write(ctx, conn, wsMessage{Topic: "panel.status", Payload: st, Time: time.Now()}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-merged:
			if err := wsjson.Write(ctx, conn, wsMessage{Topic: ev.Topic, Payload: ev.Payload, Time: time.Now()}); err != nil {
				s.cfg.Logger.Warn("ws: write error", "topic", ev.Topic, "error", err)
				return
			}
		}
	}
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}

func (s *Server) clientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
