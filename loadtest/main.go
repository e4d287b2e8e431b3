package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	UserCount = 100 // Each user opens two sessions (two tabs).
	MsgCount  = 5   // Messages per user; every one triggers a full AI turn.
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type ConversationResponse struct {
	ID int `json:"id"`
}

func main() {
	log.Printf("🔥 STARTING STRESS TEST: %d users x 2 sessions, %d messages each...", UserCount, MsgCount)
	var wg sync.WaitGroup

	for i := 0; i < UserCount; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			runUser(n)
		}(i)
	}

	wg.Wait()
	log.Println("✅ LOAD TEST COMPLETE")
}

// runUser simulates one user with two live sessions: tab A sends into
// its conversation, tab B should observe message:new plus the chunk
// stream exactly once each.
func runUser(n int) {
	username := fmt.Sprintf("loadtest_u%d", n)
	token, _ := authenticate(username, "password123")
	if token == "" {
		return
	}

	convID := createConversation(token, fmt.Sprintf("stress %d", n))
	if convID == 0 {
		return
	}

	tabA := dial(token)
	tabB := dial(token)
	if tabA == nil || tabB == nil {
		return
	}
	defer tabA.Close()
	defer tabB.Close()

	// Tab A joins the channel and views it; tab B stays outside so it
	// exercises the residual same-user delivery path.
	send(tabA, map[string]any{"type": "conversation:join", "conversation_id": convID})
	send(tabA, map[string]any{"type": "conversation:view", "conversation_id": convID})

	done := make(chan struct{})
	go drain(tabB, done)

	for i := 0; i < MsgCount; i++ {
		send(tabA, map[string]any{
			"type":            "message:send",
			"conversation_id": convID,
			"content":         fmt.Sprintf("stress message %d from %s", i, username),
		})
		time.Sleep(200 * time.Millisecond)
	}

	time.Sleep(2 * time.Second)
	close(done)
}

func authenticate(username, password string) (string, int) {
	// Register (ignore error, might already exist)
	postJSON("/register", map[string]string{"username": username, "password": password})

	resp, err := postJSON("/login", map[string]string{"username": username, "password": password})
	if err != nil {
		log.Printf("❌ Login Failed [%s]: %v", username, err)
		return "", 0
	}
	defer resp.Body.Close()

	var data AuthResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Token, data.ID
}

func createConversation(token, title string) int {
	jsonBody, _ := json.Marshal(map[string]string{"title": title})
	req, _ := http.NewRequest("POST", BaseURL+"/api/conversations", bytes.NewBuffer(jsonBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		log.Printf("❌ Create Conversation Failed: %v", err)
		return 0
	}
	defer resp.Body.Close()

	var data ConversationResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.ID
}

func dial(token string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(WSURL+"?auth_token="+token, nil)
	if err != nil {
		log.Printf("❌ WS Dial Failed: %v", err)
		return nil
	}
	return conn
}

func send(conn *websocket.Conn, frame map[string]any) {
	if err := conn.WriteJSON(frame); err != nil {
		log.Printf("❌ WS Write Failed: %v", err)
	}
}

func drain(conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func postJSON(path string, body map[string]string) (*http.Response, error) {
	jsonBody, _ := json.Marshal(body)
	resp, err := http.Post(BaseURL+path, "application/json", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 && path == "/login" {
		resp.Body.Close()
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp, nil
}
