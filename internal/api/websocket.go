package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tradex-core/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var streamTopics = []events.Event{
	events.EventTradeExecuted,
	events.EventRunLog,
	events.EventRunStarted,
	events.EventRunStopped,
	events.EventManualClosed,
}

// wsMessage is the frame pushed to clients.
type wsMessage struct {
	Type events.Event `json:"type"`
	Data any          `json:"data"`
}

// websocket streams the caller's trade, log and run events. The JWT comes
// from the Authorization header or ?token=.
func (s *Server) websocket(c *gin.Context) {
	raw, ok := bearerToken(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "MISSING_TOKEN", "missing token")
		return
	}
	accountID, err := parseToken(raw, s.deps.JWTSecret)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
		return
	}
	if s.deps.Bus == nil {
		unavailable(c, "event stream")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()
	log := s.log.With().Str("account_id", accountID).Logger()
	log.Debug().Msg("ws client connected")

	// one channel per topic so the frame carries its event type
	type tagged struct {
		topic events.Event
		data  any
	}
	merged := make(chan tagged, wsBuffer)
	done := make(chan struct{})
	defer close(done)
	for _, topic := range streamTopics {
		ch, unsub := s.deps.Bus.Subscribe(wsBuffer, topic)
		defer unsub()
		go func(topic events.Event, ch <-chan any) {
			for payload := range ch {
				if events.Account(payload) != accountID {
					continue
				}
				select {
				case merged <- tagged{topic, payload}:
				case <-done:
					return
				default:
					// slow client, drop
				}
			}
		}(topic, ch)
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			log.Debug().Msg("ws client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		case m := <-merged:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(wsMessage{Type: m.topic, Data: m.data}); err != nil {
				log.Debug().Err(err).Msg("ws write failed")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
