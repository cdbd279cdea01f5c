// Package main runs a demo client that creates an appointment and
// tails the operator event stream over WebSocket.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Create an appointment to generate sync events
	body := []byte(`{"clinicianName":"Dr. Demo","patientName":"Demo Patient"}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var appt struct {
		ID        string `json:"id"`
		SyncState string `json:"syncState"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&appt); err != nil {
		log.Fatal(err)
	}
	log.Printf("appointment %s sync_state=%s", appt.ID, appt.SyncState)

	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("localhost:%s", port), Path: "/v1/events/ws"}
	hdr := http.Header{"X-Role": []string{"admin"}}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		var evt map[string]any
		if err := conn.ReadJSON(&evt); err != nil {
			log.Printf("stream closed: %v", err)
			return
		}
		out, _ := json.Marshal(evt)
		fmt.Println(string(out))
	}
}
