// Command chatprobe replays a short conversation against a running chat
// backend, optionally pausing between messages to exercise session expiry.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
)

type chatRequest struct {
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	baseURL := flag.StringP("url", "u", "http://localhost:8000", "chat backend base URL")
	userID := flag.String("user", "", "user id, random uuid when empty")
	messages := flag.StringArrayP("message", "m", []string{"Hi! My name is Alice.", "What is my name?"}, "message to send, repeatable")
	wait := flag.Duration("wait", 0, "pause between messages, e.g. 31m to force session expiry")
	timeout := flag.Duration("timeout", 60*time.Second, "per-request timeout")
	flag.Parse()

	if *userID == "" {
		*userID = uuid.NewString()
	}
	log.Printf("probing %s as user %s", *baseURL, *userID)

	client := &http.Client{Timeout: *timeout}
	endpoint := strings.TrimRight(*baseURL, "/") + "/chat"

	var lastSession string
	for i, msg := range *messages {
		if i > 0 && *wait > 0 {
			log.Printf("waiting %s before next message", *wait)
			time.Sleep(*wait)
		}

		resp, err := send(context.Background(), client, endpoint, chatRequest{UserID: *userID, Prompt: msg})
		if err != nil {
			log.Fatalf("message %d failed: %v", i+1, err)
		}

		fmt.Printf("\n[%s] You: %s\n", time.Now().Format("15:04:05"), msg)
		fmt.Printf("[%s] Assistant: %s\n", time.Now().Format("15:04:05"), resp.Response)
		if resp.SessionID != "" {
			fmt.Printf("Session ID: %s\nTimestamp: %s\n", resp.SessionID, resp.Timestamp)
			if lastSession != "" && lastSession != resp.SessionID {
				fmt.Println("(new session started)")
			}
			lastSession = resp.SessionID
		}
	}
}

func send(ctx context.Context, client *http.Client, endpoint string, payload chatRequest) (chatResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return chatResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return chatResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := client.Do(req)
	if err != nil {
		return chatResponse{}, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return chatResponse{}, err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return chatResponse{}, fmt.Errorf("decode response (status %d): %w", httpResp.StatusCode, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return chatResponse{}, fmt.Errorf("status %d: %s", httpResp.StatusCode, resp.Error)
	}
	return resp, nil
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
}
