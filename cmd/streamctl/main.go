package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"streamkit/backend/pkg/config"
	"streamkit/backend/pkg/jwt"

	"github.com/gorilla/websocket"
)

type frame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

func main() {
	userID := flag.String("user", "", "Mint a development token for this user id")
	name := flag.String("name", "", "Display name embedded in the token")
	streamID := flag.Uint("watch", 0, "Tail the realtime feed of this stream")
	say := flag.String("say", "", "Send one chat message after connecting (requires -user)")
	server := flag.String("server", "ws://localhost:8081", "Gateway base URL")
	helpPtr := flag.Bool("help", false, "Show usage information")
	flag.Parse()

	if *helpPtr || (*userID == "" && *streamID == 0) {
		fmt.Println("streamctl usage:")
		fmt.Println("  -user <id> [-name <display>]        print a signed development token")
		fmt.Println("  -watch <stream> [-user <id>]        tail chat, moderation and reaction frames")
		fmt.Println("  -watch <stream> -user <id> -say msg send a chat message and tail the feed")
		fmt.Println("  -server <url>                       gateway base URL (default ws://localhost:8081)")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var token string
	if *userID != "" {
		display := *name
		if display == "" {
			display = *userID
		}
		token, err = jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry).GenerateToken(jwt.Identity{UserID: *userID, DisplayName: display})
		if err != nil {
			log.Fatalf("Failed to sign token: %v", err)
		}
		if *streamID == 0 {
			fmt.Println(token)
			return
		}
	}

	watch(*server, *streamID, token, *say)
}

func watch(server string, streamID uint, token, say string) {
	u := fmt.Sprintf("%s/ws/streams/%d", strings.TrimRight(server, "/"), streamID)
	if token != "" {
		u += "?access_token=" + url.QueryEscape(token)
	}

	log.Printf("Connecting to %s", u)
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		if resp != nil {
			log.Fatalf("Error connecting to gateway: %v (HTTP %d)", err, resp.StatusCode)
		}
		log.Fatalf("Error connecting to gateway: %v", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				log.Printf("Gateway read error: %v", err)
				return
			}
			if f.Type == "pong" {
				continue
			}
			log.Printf("%-14s %s", f.Type, f.Content)
		}
	}()

	if say != "" {
		if err := conn.WriteJSON(map[string]any{
			"type":    "chat",
			"content": map[string]string{"nonce": fmt.Sprintf("cli-%d", time.Now().UnixNano()), "content": say},
		}); err != nil {
			log.Fatalf("Error sending chat: %v", err)
		}
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(frame{Type: "ping"}); err != nil {
				log.Printf("Error writing ping: %v", err)
				return
			}
		case <-interrupt:
			err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Printf("Error during closing websocket: %v", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
