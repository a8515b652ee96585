// Package deepgram renders reply text as raw audio through Deepgram's
// websocket speak API, one request per reply.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
)

type Client struct {
	options options
}

func NewClient(opts ...Option) (*Client, error) {
	options := defaultClientOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if !slices.Contains(AvailableVoices(), options.voice) {
		return nil, fmt.Errorf("invalid voice %q", options.voice)
	}

	return &Client{options: options}, nil
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Synthesize opens a speak stream, sends the text, and collects the
// rendered audio until the remote buffer is flushed.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	conn, err := c.connectWebsocket(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}
	defer conn.Close()

	for _, msg := range []speakMessage{
		{Type: "Speak", Text: text},
		{Type: "Flush"},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			return nil, fmt.Errorf("failed to send %s message: %w", msg.Type, err)
		}
	}

	audio, err := c.collectAudio(ctx, conn)
	if err != nil {
		return nil, err
	}

	// Best effort; the deferred close tears the connection down anyway.
	_ = conn.WriteJSON(speakMessage{Type: "Close"})
	return audio, nil
}

// collectAudio accumulates binary frames until the server confirms the
// flush. The context deadline is enforced as the read deadline.
func (c *Client) collectAudio(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	var audio []byte
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read from speak stream: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			audio = append(audio, msg...)
		case websocket.TextMessage:
			var parsed speakMessage
			if err := json.Unmarshal(msg, &parsed); err != nil {
				continue
			}
			if parsed.Type == "Flushed" {
				return audio, nil
			}
		}
	}
}

func (c *Client) connectWebsocket(ctx context.Context) (*websocket.Conn, error) {
	apiKey := c.options.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("DEEPGRAM_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	speakUrl, err := url.Parse(c.options.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid speak endpoint: %w", err)
	}
	queryParams := speakUrl.Query()
	queryParams.Set("encoding", c.options.encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(c.options.encoding.SampleRate))
	queryParams.Set("model", string(c.options.voice))
	queryParams.Set("container", "none")
	speakUrl.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, speakUrl.String(),
		http.Header{"Authorization": {"Token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}
