// Command pettry-voice talks to a Pettry server from the terminal. It
// listens on the default microphone, transcribes with Deepgram, asks the
// server's chat endpoint and plays the reply synthesised by the server on
// the default speaker. Lines typed on stdin are sent as text turns.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pettry/internal/config"
	"github.com/MrWong99/pettry/pkg/audio/local"
	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/provider/stt/deepgram"
	"github.com/MrWong99/pettry/pkg/provider/tts/remote"
	"github.com/MrWong99/pettry/pkg/types"
	"github.com/MrWong99/pettry/pkg/voice"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	server := flag.String("server", "http://localhost:8080", "base URL of the Pettry server")
	envFile := flag.String("env", ".env", "optional dotenv file")
	locale := flag.String("locale", config.DefaultLocale, "recognition language")
	voiceID := flag.String("voice", "", "server voice ID; empty uses the server default")
	pet := flag.String("pet", "", "pet description to seed the conversation with")
	threshold := flag.Float64("threshold", 0, "0-255 level above which speaking interrupts the reply")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "pettry-voice: %v\n", err)
		return 1
	}
	key := os.Getenv("DEEPGRAM_API_KEY")
	if key == "" {
		fmt.Fprintln(os.Stderr, "pettry-voice: DEEPGRAM_API_KEY is not set")
		return 1
	}

	// ── Devices and providers ─────────────────────────────────────────────────
	dev, err := local.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pettry-voice: %v\n", err)
		return 1
	}
	defer dev.Close()

	recognizer, err := deepgram.New(key, deepgram.WithLanguage(*locale))
	if err != nil {
		fmt.Fprintf(os.Stderr, "pettry-voice: %v\n", err)
		return 1
	}
	synth, err := remote.New(*server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pettry-voice: %v\n", err)
		return 1
	}

	co, err := voice.New(voice.Config{
		Capture: voice.CaptureConfig{Language: *locale},
		Monitor: voice.MonitorConfig{Threshold: *threshold},
	}, voice.Deps{
		Microphone: dev,
		STT:        recognizer,
		Strategy: &voice.Remote{
			TTS:     synth,
			Speaker: dev,
			Voice:   types.VoiceProfile{ID: *voiceID},
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pettry-voice: %v\n", err)
		return 1
	}
	defer co.Close()

	client := newChatClient(*server, *pet)
	assistant := voice.NewAssistant(co, client)

	// ── Run ───────────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := co.SetMode(ctx, voice.Listening); err != nil {
		fmt.Fprintf(os.Stderr, "pettry-voice: cannot listen: %s\n", fault.Message(err))
		return 1
	}
	fmt.Println("Pettry is listening. Speak, or type a message and press Enter. Ctrl+C quits.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return assistant.Run(gctx) })
	g.Go(func() error {
		printEvents(os.Stdout, assistant.Events(), client)
		return nil
	})
	go readLines(gctx, os.Stdin, assistant)

	if err := g.Wait(); err != nil && !errors.Is(err, voice.ErrClosed) {
		fmt.Fprintf(os.Stderr, "pettry-voice: %v\n", err)
		return 1
	}
	return 0
}

// readLines sends every non-empty stdin line as a typed turn. It is not
// joined on exit because reading stdin cannot be interrupted.
func readLines(ctx context.Context, r io.Reader, a *voice.Assistant) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := a.Say(ctx, sc.Text()); err != nil && ctx.Err() == nil && fault.KindOf(err) != fault.Validation {
			slog.Warn("typed turn not sent", "err", err)
		}
	}
}

// printEvents renders assistant events as a transcript until the channel
// closes.
func printEvents(w io.Writer, events <-chan voice.Event, client *chatClient) {
	for ev := range events {
		ts := ev.Time.Format(time.TimeOnly)
		switch ev.Kind {
		case voice.EventUtterance:
			fmt.Fprintf(w, "[%s] you: %s\n", ts, ev.Text)
		case voice.EventReply:
			fmt.Fprintf(w, "[%s] pettry: %s\n", ts, ev.Text)
			for _, p := range client.Recommended() {
				fmt.Fprintf(w, "           * %s (%s)\n", p.Name, p.Price())
			}
		case voice.EventInterrupted:
			fmt.Fprintf(w, "[%s] (reply interrupted: %s)\n", ts, ev.Reason)
		case voice.EventFailed, voice.EventWarning:
			fmt.Fprintf(w, "[%s] ! %s\n", ts, fault.Message(ev.Err))
		case voice.EventModeChanged:
			slog.Debug("mode changed", "mode", ev.Mode)
		}
	}
}
