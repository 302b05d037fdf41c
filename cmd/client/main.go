package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/matst80/matchbox/internal/proto"
)

func main() {
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("matchbox client starting client=%s target=%s server=%s", *flagClient, *flagTarget, *flagServer)

	// Stdin is pumped once and survives reconnects; typed lines become
	// command frames for whichever connection is currently up.
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	bo := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Jitter: true}
	for {
		connected, err := runOnce(ctx, lines)
		if connected {
			bo.Reset()
		}
		if ctx.Err() != nil {
			log.Printf("shutting down")
			return
		}
		if err != nil {
			log.Printf("connection ended: %v", err)
		}
		d := bo.Duration()
		log.Printf("reconnecting in %s...", d.Round(time.Millisecond))
		select {
		case <-time.After(d):
		case <-ctx.Done():
			log.Printf("shutting down")
			return
		}
	}
}

func runOnce(ctx context.Context, lines <-chan string) (bool, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, *flagServer, nil)
	if err != nil {
		return false, err
	}
	defer ws.Close()

	frame, err := json.Marshal(proto.Session(*flagClient, *flagTarget, *flagKey))
	if err != nil {
		return true, err
	}
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return true, err
	}
	log.Printf("declared client=%s target=%s", *flagClient, *flagTarget)

	readErr := make(chan error, 1)
	go func() {
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			log.Printf("<< %s", msg)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return true, nil
		case err := <-readErr:
			return true, err
		case line, ok := <-lines:
			if !ok {
				// stdin closed; stay connected and keep printing.
				lines = nil
				continue
			}
			if line == "" {
				continue
			}
			frame, err := commandFrame(line)
			if err != nil {
				log.Printf("skipping line: %v", err)
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return true, err
			}
		}
	}
}

// commandFrame wraps one typed line as a command. Valid JSON is sent as-is
// so structured payloads pass through; anything else is sent as a string.
func commandFrame(line string) ([]byte, error) {
	raw := json.RawMessage(line)
	if !json.Valid(raw) {
		quoted, err := json.Marshal(line)
		if err != nil {
			return nil, err
		}
		raw = quoted
	}
	return json.Marshal(proto.Command(raw))
}
