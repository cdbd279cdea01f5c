package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// EventsWSHandler streams every sync/ingest event over a websocket.
// Optional ?appointmentId= narrows the stream to one appointment.
func (s *Server) EventsWSHandler(w http.ResponseWriter, r *http.Request) {
	if p := s.getPrincipal(r); !p.IsAdmin() && p.Role != "operator" {
		writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
		return
	}
	topic := r.URL.Query().Get("appointmentId")
	if topic == "" {
		topic = topicAll
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)

	// drain client frames so pong handling and close detection work
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1 << 16)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
