// Package main provides a load and smoke testing tool for the chat
// WebSocket server.
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

	"github.com/gorilla/websocket"
)

// Metrics tracks the probe results.
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	MessagesSent         int64
	EventsReceived       int64
	Errors               int64
}

var metrics Metrics

func main() {
	host := flag.String("host", "localhost:8420", "API server host")
	token := flag.String("token", "", "JWT bearer token for the probe user")
	channel := flag.String("channel", "probe-channel", "Channel to join and chat in")
	clients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	chatRate := flag.Duration("rate", 2*time.Second, "Delay between chat messages per client")
	flag.Parse()

	if *token == "" {
		log.Fatal("a -token is required (mint one with the same JWT secret the server uses)")
	}

	log.Printf("Starting chat probe against %s", *host)
	log.Printf("Clients: %d, Duration: %v", *clients, *duration)

	channelID, err := joinChannel(*host, *token, *channel)
	if err != nil {
		log.Fatalf("Join failed: %v", err)
	}
	log.Printf("Joined channel %q (id %d)", *channel, channelID)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go runClient(*host, *token, channelID, *chatRate, stopChan, &wg)
		// Stagger connections so the per-user connection limit is the
		// only thing that can reject them.
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case <-time.After(*duration):
		log.Println("Test duration reached")
	case <-interrupt:
		log.Println("Interrupted by user")
	}

	close(stopChan)
	log.Println("Waiting for clients to disconnect...")
	wg.Wait()

	printMetrics()
}

func joinChannel(host, token, channelName string) (uint, error) {
	joinURL := fmt.Sprintf("http://%s/api/chat/join", host)
	body, _ := json.Marshal(map[string]string{"channel_name": channelName})

	req, _ := http.NewRequest(http.MethodPost, joinURL, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("join failed with status %d", resp.StatusCode)
	}

	var result struct {
		ID uint `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}
	return result.ID, nil
}

func runClient(host, token string, channelID uint, chatRate time.Duration, stopChan chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	wsURL := url.URL{
		Scheme:   "ws",
		Host:     host,
		Path:     "/api/ws/chat",
		RawQuery: "token=" + url.QueryEscape(token),
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		log.Printf("Dial failed: %v", err)
		return
	}
	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)
	defer func() { _ = conn.Close() }()

	// Reader counts pushed events until the socket drops.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			atomic.AddInt64(&metrics.EventsReceived, 1)
		}
	}()

	ticker := time.NewTicker(chatRate)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			select {
			case <-readDone:
			case <-time.After(2 * time.Second):
			}
			return
		case <-readDone:
			return
		case <-ticker.C:
			if err := sendMessage(host, token, channelID); err != nil {
				atomic.AddInt64(&metrics.Errors, 1)
			} else {
				atomic.AddInt64(&metrics.MessagesSent, 1)
			}
		}
	}
}

func sendMessage(host, token string, channelID uint) error {
	msgURL := fmt.Sprintf("http://%s/api/chat/%d/messages", host, channelID)
	body, _ := json.Marshal(map[string]string{
		"message": fmt.Sprintf("probe message at %s", time.Now().Format(time.RFC3339Nano)),
	})

	req, _ := http.NewRequest(http.MethodPost, msgURL, bytes.NewBuffer(body))
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
	log.Println("=== Probe Results ===")
	log.Printf("Connections attempted: %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("Connections succeeded: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("Connections failed:    %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("Messages sent:         %d", atomic.LoadInt64(&metrics.MessagesSent))
	log.Printf("Events received:       %d", atomic.LoadInt64(&metrics.EventsReceived))
	log.Printf("Errors:                %d", atomic.LoadInt64(&metrics.Errors))
}
