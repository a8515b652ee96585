// Package deepgram streams captured audio to Deepgram's websocket listen
// API and reports finalized utterances back to the audio module.
package deepgram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"

	"github.com/koscakluka/ada-core/core/audio"
)

type Client struct {
	options options

	conn   *websocket.Conn
	connMu sync.Mutex

	accumulatedTranscript string
	unendedSegment        bool
	lastMsgTs             time.Time

	cancelStream context.CancelFunc
}

func NewClient(opts ...Option) *Client {
	options := defaultClientOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Client{options: options}
}

// Start opens the websocket stream and begins reporting finalized
// utterances through onTranscript. It fails when the API key is missing
// or the encoding is not supported by the listen API.
func (c *Client) Start(ctx context.Context, encoding audio.EncodingInfo, onTranscript func(transcript string)) error {
	if encoding.IsZero() {
		encoding = audio.GetDefaultEncodingInfo()
	}
	deepgramEncoding, err := convertEncoding(encoding)
	if err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}

	conn, err := c.connectWebsocket(*deepgramEncoding)
	if err != nil {
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.connMu.Lock()
	c.conn = conn
	c.cancelStream = cancel
	c.lastMsgTs = time.Now()
	c.connMu.Unlock()

	go c.readAndProcessMessages(streamCtx, conn, onTranscript)
	return nil
}

func (c *Client) connectWebsocket(encoding encodingInfo) (*websocket.Conn, error) {
	apiKey := c.options.apiKey
	if apiKey == "" {
		var ok bool
		if apiKey, ok = os.LookupEnv("DEEPGRAM_API_KEY"); !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
	}

	listenUrl, _ := url.Parse("wss://api.deepgram.com/v1/listen")
	queryParams := listenUrl.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", c.options.model)
	queryParams.Set("language", c.options.language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("interim_results", "true")
	queryParams.Set("endpointing", c.options.endpointing)
	queryParams.Set("vad_events", "true")

	listenUrl.RawQuery = queryParams.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(listenUrl.String(),
		http.Header{"Authorization": {"Token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (c *Client) SendAudio(audio []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("transcription stream not started")
	}

	c.lastMsgTs = time.Now()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

// Close flushes the remote buffer and tears the stream down.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.cancelStream != nil {
		c.cancelStream()
		c.cancelStream = nil
	}
	if c.conn == nil {
		return nil
	}

	if err := c.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	return nil
}

func (c *Client) sendSilence(audio []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}

	if err := c.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (c *Client) sendKeepAlive() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}

	if err := c.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: "KeepAlive"}); err != nil {
		return fmt.Errorf("failed to write keep-alive: %w", err)
	}
	return nil
}
