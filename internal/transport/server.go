package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matst80/matchbox/internal/broker"
	"github.com/matst80/matchbox/internal/config"
	"github.com/matst80/matchbox/internal/httpx"
	"github.com/matst80/matchbox/internal/obs"
	"github.com/matst80/matchbox/internal/proto"
	"github.com/matst80/matchbox/internal/ratelimit"
	"github.com/matst80/matchbox/internal/session"
)

// Server accepts WebSocket endpoints and feeds their frames to the broker.
type Server struct {
	broker   *broker.Broker
	registry *Registry
	limiter  *ratelimit.Limiter
	cfg      *config.Config
	upgrader websocket.Upgrader
}

func NewServer(b *broker.Broker, reg *Registry, lim *ratelimit.Limiter, cfg *config.Config) *Server {
	return &Server{
		broker:   b,
		registry: reg,
		limiter:  lim,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Endpoints are arbitrary devices, not browsers on our origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades the request and runs the connection until its socket
// closes. The handler goroutine is the read pump.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	source := httpx.ClientIP(r, s.cfg.Server.TrustProxyHeaders)
	if !s.limiter.AllowConnection(source) {
		obs.RateLimitedTotal.WithLabelValues("connection").Inc()
		obs.Info("conn.rejected", obs.Fields{"source": source})
		http.Error(w, "connection rate exceeded", http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		obs.ErrorsTotal.WithLabelValues("upgrade").Inc()
		obs.Error("conn.upgrade_failed", obs.Fields{"source": source, "error": err.Error()})
		return
	}

	c := newConn(ws, source, s.cfg.Server.SendBuffer)
	id := s.registry.register(c)
	obs.Info("conn.open", obs.Fields{"conn": id, "source": source})

	go c.writePump(s.cfg.GetWriteTimeout(), s.cfg.GetPingInterval())
	s.readLoop(c)
}

func (s *Server) readLoop(c *Conn) {
	defer func() {
		c.shutdown()
		s.registry.remove(c.id)
		s.broker.Disconnect(c.id)
		s.limiter.DropConnection(uint64(c.id))
		obs.Info("conn.closed", obs.Fields{"conn": c.id, "source": c.source})
	}()

	pongTimeout := s.cfg.GetPongTimeout()
	c.ws.SetReadLimit(s.cfg.Server.MaxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				obs.Debug("conn.read_error", obs.Fields{"conn": c.id, "error": err.Error()})
			}
			return
		}
		if !s.limiter.AllowMessage(uint64(c.id)) {
			obs.RateLimitedTotal.WithLabelValues("message").Inc()
			continue
		}
		s.dispatch(c.id, raw)
	}
}

// dispatch decodes one inbound frame. Anything that does not parse as a
// known frame is dropped without closing the connection.
func (s *Server) dispatch(id session.ConnID, raw []byte) {
	env, err := proto.Decode(raw)
	if err != nil {
		obs.CommandsDroppedTotal.WithLabelValues("malformed").Inc()
		obs.Debug("conn.frame_rejected", obs.Fields{"conn": id, "error": err.Error()})
		return
	}
	switch env.Type {
	case proto.TypeSession:
		s.broker.Declare(id, session.Declaration{
			ClientID: env.Client,
			TargetID: env.Target,
			Key:      env.Key,
		})
	case proto.TypeCommand:
		s.broker.Relay(id, env.CommandPayload())
	}
}
