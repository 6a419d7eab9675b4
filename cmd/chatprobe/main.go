// Command chatprobe is a smoke and load client for the realtime messaging
// API. It opens one or more authenticated WebSocket sessions, sends messages
// over the HTTP API, and verifies that every send comes back as a realtime
// event on the socket.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"relay/internal/notifications"
	"relay/internal/session"

	"github.com/gorilla/websocket"
)

// Metrics tracks probe results across all clients.
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	MessagesSent         int64
	EventsReceived       int64
	EchoesReconciled     int64
	DuplicatesDropped    int64
	Errors               int64
}

var metrics Metrics

func main() {
	host := flag.String("host", "localhost:8480", "API server host")
	token := flag.String("token", "", "JWT bearer token (required)")
	selfID := flag.Uint("user", 0, "user id the token belongs to (required)")
	convID := flag.Uint("conversation", 0, "conversation id to send into (required)")
	clients := flag.Int("clients", 1, "number of concurrent sessions")
	interval := flag.Duration("interval", 5*time.Second, "delay between sends per session")
	duration := flag.Duration("duration", 30*time.Second, "probe duration")
	flag.Parse()

	if *token == "" || *selfID == 0 || *convID == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log.Printf("starting chat probe against %s (conversation %d, %d sessions)", *host, *convID, *clients)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go runSession(*host, *token, *selfID, *convID, i, *interval, stopChan, &wg)
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case <-time.After(*duration):
		log.Println("probe duration reached")
	case <-interrupt:
		log.Println("interrupted")
	}

	close(stopChan)
	wg.Wait()
	printMetrics()
}

func runSession(host, token string, selfID, convID uint, id int, interval time.Duration, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	u := url.URL{Scheme: "ws", Host: host, Path: "/api/ws/", RawQuery: "token=" + url.QueryEscape(token)}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)

	view := session.NewConversationView(convID, selfID)
	controller := session.NewController()
	controller.Subscribe(notifications.EventNewMessage, func(e notifications.Event) {
		msg, unread, ok := decodeNewMessage(e)
		if !ok {
			atomic.AddInt64(&metrics.Errors, 1)
			return
		}
		if msg.ConversationID != convID {
			return
		}
		if view.ApplyNewMessage(msg.toView(), unread) && msg.SenderID == selfID {
			atomic.AddInt64(&metrics.EchoesReconciled, 1)
		}
		// Acknowledge delivery so unread counts stay accurate server-side.
		ack := map[string]interface{}{
			"type":                 "mark_read",
			"conversation_id":      convID,
			"last_read_message_id": msg.ID,
		}
		if err := conn.WriteJSON(ack); err == nil {
			view.MarkRead(msg.ID)
		}
	})
	controller.Subscribe(notifications.EventMessageUpdate, func(e notifications.Event) {
		msg, _, ok := decodeNewMessage(e)
		if ok && msg.ConversationID == convID {
			view.ApplyMessageUpdate(msg.toView())
		}
	})

	// Read loop feeds every frame through the controller, which handles
	// dedupe and routing.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			atomic.AddInt64(&metrics.EventsReceived, 1)
			if !controller.Dispatch(raw) {
				atomic.AddInt64(&metrics.DuplicatesDropped, 1)
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-stopChan:
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-readDone:
			atomic.AddInt64(&metrics.Errors, 1)
			return
		case <-ticker.C:
			seq++
			content := fmt.Sprintf("probe %d message %d", id, seq)
			view.AddOptimistic(fmt.Sprintf("probe-%d-%d", id, seq), content, "text", "")
			if err := sendMessage(host, token, convID, content); err != nil {
				atomic.AddInt64(&metrics.Errors, 1)
				continue
			}
			atomic.AddInt64(&metrics.MessagesSent, 1)
		}
	}
}

// probeMessage is the subset of the server message shape the probe needs.
type probeMessage struct {
	ID             uint      `json:"id"`
	ConversationID uint      `json:"conversation_id"`
	SenderID       uint      `json:"sender_id"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	FileURL        string    `json:"file_url"`
	CreatedAt      time.Time `json:"created_at"`
}

func (m probeMessage) toView() session.ViewMessage {
	return session.ViewMessage{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      m.Type,
		FileURL:   m.FileURL,
		CreatedAt: m.CreatedAt,
	}
}

func decodeNewMessage(e notifications.Event) (probeMessage, int64, bool) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return probeMessage{}, 0, false
	}
	var payload struct {
		Message     probeMessage `json:"message"`
		UnreadCount int64        `json:"unread_count"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return probeMessage{}, 0, false
	}
	if payload.Message.ID == 0 {
		// message_update events carry the message directly.
		var msg probeMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.ID == 0 {
			return probeMessage{}, 0, false
		}
		return msg, 0, true
	}
	return payload.Message, payload.UnreadCount, true
}

func sendMessage(host, token string, convID uint, content string) error {
	payload := map[string]interface{}{
		"conversation_id": convID,
		"content":         content,
		"type":            "text",
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("http://%s/api/messages", host), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("send failed with status %d", resp.StatusCode)
	}
	return nil
}

func printMetrics() {
	log.Println("probe results")
	log.Printf("  connections attempted: %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("  connections successful: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("  connections failed: %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("  messages sent: %d", atomic.LoadInt64(&metrics.MessagesSent))
	log.Printf("  events received: %d", atomic.LoadInt64(&metrics.EventsReceived))
	log.Printf("  echoes reconciled: %d", atomic.LoadInt64(&metrics.EchoesReconciled))
	log.Printf("  duplicates dropped: %d", atomic.LoadInt64(&metrics.DuplicatesDropped))
	log.Printf("  errors: %d", atomic.LoadInt64(&metrics.Errors))
}
