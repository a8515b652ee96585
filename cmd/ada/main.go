// Command ada runs the assistant: a websocket display, the conversation
// module backed by an OpenAI-compatible endpoint, and optionally
// microphone capture with spoken responses. The interactive console is
// on by default; --console=false runs headless until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	assistant "github.com/koscakluka/ada-core/core"
	"github.com/koscakluka/ada-core/core/audio"
	"github.com/koscakluka/ada-core/core/audio/miniaudio"
	"github.com/koscakluka/ada-core/core/audio/portaudio"
	synthesize "github.com/koscakluka/ada-core/core/audio/synthesize/deepgram"
	transcribe "github.com/koscakluka/ada-core/core/audio/transcribe/deepgram"
	"github.com/koscakluka/ada-core/core/bus"
	"github.com/koscakluka/ada-core/core/conversation"
	"github.com/koscakluka/ada-core/core/display"
	"github.com/koscakluka/ada-core/core/events"
	"github.com/koscakluka/ada-core/core/llms/openai"
)

// playbackBufferSize is the portaudio frame size in samples.
const playbackBufferSize = 512

type config struct {
	llmBaseURL   string
	llmModel     string
	instructions string

	displayAddr string

	audioEnabled bool
	speakEnabled bool
	voice        string
	playback     string

	consoleEnabled bool

	groundingWindow   time.Duration
	generationTimeout time.Duration
	supersede         bool
}

func main() {
	_ = godotenv.Load()

	var cfg config
	flag.StringVar(&cfg.llmBaseURL, "llm-base-url",
		envOr("ADA_LLM_BASE_URL", "http://localhost:11434/v1"),
		"OpenAI-compatible chat completion endpoint")
	flag.StringVar(&cfg.llmModel, "llm-model",
		envOr("ADA_LLM_MODEL", "llama3.2"),
		"model served at the chat completion endpoint")
	flag.StringVar(&cfg.instructions, "instructions", "",
		"system prompt override")
	flag.StringVar(&cfg.displayAddr, "display-addr", "127.0.0.1:8710",
		"listen address of the websocket display")
	flag.BoolVar(&cfg.audioEnabled, "audio", false,
		"capture and transcribe microphone audio (needs DEEPGRAM_API_KEY)")
	flag.BoolVar(&cfg.speakEnabled, "speak", false,
		"speak responses through the default playback device (implies --audio)")
	flag.StringVar(&cfg.voice, "voice", string(synthesize.VoiceAsteria),
		"voice used to speak responses")
	flag.StringVar(&cfg.playback, "playback", "miniaudio",
		"playback device backend, miniaudio or portaudio")
	flag.BoolVar(&cfg.consoleEnabled, "console", true,
		"run the interactive console")
	flag.DurationVar(&cfg.groundingWindow, "grounding-window", 300*time.Millisecond,
		"how long a turn waits for detection context before generating")
	flag.DurationVar(&cfg.generationTimeout, "generation-timeout", 5*time.Second,
		"how long a single reply generation may take")
	flag.BoolVar(&cfg.supersede, "supersede", false,
		"let a new utterance cancel the in-flight generation")
	flag.Parse()

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "ada:", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Responses must reach every sink; when one falls behind, the
	// response topic blocks the publisher instead of dropping.
	eventBus := bus.New(
		bus.WithOverflowPolicy(events.TopicResponse, bus.BlockPublisher),
	)

	var generatorOpts []openai.Option
	if cfg.instructions != "" {
		generatorOpts = append(generatorOpts, openai.WithInstructions(cfg.instructions))
	}
	generator := openai.NewClient(cfg.llmBaseURL, os.Getenv("OPENAI_API_KEY"), cfg.llmModel, generatorOpts...)

	conversationOpts := []conversation.Option{
		conversation.WithGroundingWindow(cfg.groundingWindow),
		conversation.WithGenerationTimeout(cfg.generationTimeout),
	}
	if cfg.instructions != "" {
		conversationOpts = append(conversationOpts, conversation.WithInstructions(cfg.instructions))
	}
	if cfg.supersede {
		conversationOpts = append(conversationOpts, conversation.WithSupersedingUtterances())
	}

	assistantOpts := []assistant.Option{
		assistant.WithModule(display.New(eventBus, display.WithAddr(cfg.displayAddr))),
		assistant.WithModule(conversation.New(eventBus, generator, conversationOpts...)),
	}

	if cfg.audioEnabled || cfg.speakEnabled {
		audioClient, err := miniaudio.NewClient()
		if err != nil {
			return fmt.Errorf("failed to initialize audio devices: %w", err)
		}
		defer audioClient.Close()

		var audioOpts []audio.Option
		if cfg.speakEnabled {
			synthesizer, err := synthesize.NewClient(
				synthesize.WithVoice(synthesize.Voice(cfg.voice)),
				synthesize.WithEncoding(audioClient.EncodingInfo()),
			)
			if err != nil {
				return fmt.Errorf("failed to create synthesizer: %w", err)
			}

			var playbackClient audio.PlaybackClient = audioClient
			if cfg.playback == "portaudio" {
				client, err := portaudio.NewClient(playbackBufferSize)
				if err != nil {
					return fmt.Errorf("failed to initialize portaudio playback: %w", err)
				}
				defer client.Close()
				playbackClient = client
			}
			audioOpts = append(audioOpts, audio.WithSpeechOutput(synthesizer, playbackClient))
		}

		assistantOpts = append(assistantOpts, assistant.WithModule(
			audio.New(eventBus, audioClient, transcribe.NewClient(), audioOpts...),
		))
	}

	a := assistant.New(eventBus, assistantOpts...)

	if cfg.consoleEnabled {
		return runConsole(ctx, a, eventBus)
	}
	return a.Run(ctx)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
