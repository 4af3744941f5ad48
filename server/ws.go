package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hub tracks live /ws/power subscribers, each addressed by a uuid so
// a dropped connection can be logged by identity rather than by a bare
// slice index, replacing the teacher's SSE subscribe/unsubscribe
// channel membership test.
type hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]chan []byte
}

func newHub() *hub {
	return &hub{subs: make(map[uuid.UUID]chan []byte)}
}

func (h *hub) subscribe() (uuid.UUID, chan []byte) {
	id := uuid.New()
	ch := make(chan []byte, 8)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *hub) unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- payload:
		default:
			log.Warnf("wisun: ws subscriber %s is slow, dropping reading", id)
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// handleWebsocket upgrades the connection, immediately sends the
// current reading (ground: original's websocket handler pushing
// current_data on accept), then streams every subsequent Publish call
// as JSON until the peer disconnects or stops answering pings.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("wisun: websocket upgrade failed")
		return
	}
	defer conn.Close()

	id, ch := s.hub.subscribe()
	defer s.hub.unsubscribe(id)

	s.mu.RLock()
	initial, _ := json.Marshal(struct {
		Timestamp time.Time `json:"timestamp"`
		Power     *int32    `json:"instant_power"`
	}{s.lastUpdate, s.latestPower.InstantPower})
	s.mu.RUnlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, initial); err != nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	go drainIncoming(conn)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainIncoming discards any client-sent frames (this feed is
// publish-only) purely to keep gorilla/websocket's read loop running
// so pong frames get processed and the read deadline resets.
func drainIncoming(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
