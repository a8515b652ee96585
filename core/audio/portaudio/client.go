// Package portaudio provides an alternative playback device through the
// PortAudio bindings, for platforms where miniaudio misbehaves.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/koscakluka/ada-core/core/audio"
)

type Client struct {
	bufferSize int
	stream     *portaudio.Stream
	out        []int16

	mu            sync.Mutex
	leftoverAudio []byte
	started       bool
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(0, 1, audio.DefaultSampleRate, bufferSize, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}

	return &Client{
		bufferSize: bufferSize,
		stream:     stream,
		out:        out,
	}, nil
}

func (c *Client) StartPlayback(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start portaudio stream: %w", err)
	}
	c.started = true
	return nil
}

func (c *Client) StopPlayback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}

	c.started = false
	c.leftoverAudio = nil
	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop portaudio stream: %w", err)
	}
	return nil
}

// SendAudio writes full buffers to the stream and carries the remainder
// over to the next call.
func (c *Client) SendAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return fmt.Errorf("stream not started")
	}

	frameBytes := c.bufferSize * audio.EncodingLinear16.ByteSize()
	buffered := append(c.leftoverAudio, chunk...)

	for len(buffered) >= frameBytes {
		if err := binary.Read(bytes.NewBuffer(buffered[:frameBytes]), binary.LittleEndian, c.out); err != nil {
			return fmt.Errorf("failed to frame audio: %w", err)
		}
		if err := c.stream.Write(); err != nil {
			return fmt.Errorf("failed to write to portaudio stream: %w", err)
		}
		buffered = buffered[frameBytes:]
	}

	c.leftoverAudio = append([]byte(nil), buffered...)
	return nil
}

func (c *Client) Close() {
	_ = c.stream.Close()
	_ = portaudio.Terminate()
}
