// Command cafe-client is a terminal ordering client for the text channel.
// It dials the gateway websocket, performs the hello handshake, then
// relays stdin lines as customer messages and prints the assistant's
// replies and streamed tool results.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sunrisecafe/cafe-agent/pkg/gateway/live/protocol"
)

const (
	defaultBaseURL = "ws://127.0.0.1:8080"
	defaultTimeout = 60 * time.Second
)

type clientConfig struct {
	BaseURL string
	Timeout time.Duration
}

func parseClientConfig(args []string) (clientConfig, error) {
	cfg := clientConfig{}
	fs := flag.NewFlagSet("cafe-client", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.BaseURL, "base-url", defaultBaseURL, "gateway websocket base URL")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "per-turn reply timeout (e.g. 60s)")

	if err := fs.Parse(args); err != nil {
		return clientConfig{}, err
	}

	if err := validateClientConfig(cfg); err != nil {
		return clientConfig{}, err
	}
	return cfg, nil
}

func validateClientConfig(cfg clientConfig) error {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return errors.New("base-url must not be empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid base-url %q: %w", base, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("base-url must use ws or wss, got %q", u.Scheme)
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	return nil
}

func textEndpoint(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/ws/text"
}

func run(cfg clientConfig, in io.Reader, out io.Writer) error {
	conn, _, err := websocket.DefaultDialer.Dial(textEndpoint(cfg.BaseURL), nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	hello := protocol.ClientHello{Type: "hello", ProtocolVersion: protocol.ProtocolVersion1}
	if err := conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, ackData, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello_ack: %w", err)
	}
	var ack protocol.HelloAck
	if err := json.Unmarshal(ackData, &ack); err != nil || ack.Type != "hello_ack" {
		return fmt.Errorf("unexpected handshake reply: %s", ackData)
	}
	fmt.Fprintf(out, "connected, session %s. Type your order, or /quit to leave.\n", ack.SessionID)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			_ = conn.WriteJSON(protocol.ClientControl{Type: "control", Op: protocol.ControlEndSession})
			break
		}

		if err := conn.WriteJSON(protocol.ClientText{Type: "text", Text: line}); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		if err := printTurn(conn, out, cfg.Timeout); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// printTurn reads frames until the assistant reply for this turn arrives
// or the session ends.
func printTurn(conn *websocket.Conn, out io.Writer, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read reply: %w", err)
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		switch envelope.Type {
		case "tool_result":
			var frame protocol.ToolResult
			if err := json.Unmarshal(data, &frame); err == nil {
				fmt.Fprintf(out, "  [%s] %s\n", frame.Tool, frame.Payload)
			}
		case "assistant_text":
			var frame protocol.AssistantText
			if err := json.Unmarshal(data, &frame); err == nil {
				fmt.Fprintf(out, "%s\n", frame.Text)
			}
			return nil
		case "error":
			var frame protocol.ServerError
			_ = json.Unmarshal(data, &frame)
			if frame.Fatal {
				return fmt.Errorf("session error: %s", frame.Message)
			}
			fmt.Fprintf(out, "  error: %s\n", frame.Message)
		case "session_closed":
			var frame protocol.SessionClosed
			_ = json.Unmarshal(data, &frame)
			return fmt.Errorf("session closed: %s", frame.Reason)
		}
	}
}

func main() {
	cfg, err := parseClientConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "cafe-client: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "cafe-client: %v\n", err)
		os.Exit(1)
	}
}
