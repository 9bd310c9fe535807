package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/manomitra-client/internal/config"
	"github.com/zhouzirui/manomitra-client/internal/logging"
	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
	"github.com/zhouzirui/manomitra-client/internal/model/protocol"
	sessionmodel "github.com/zhouzirui/manomitra-client/internal/model/session"
	"github.com/zhouzirui/manomitra-client/internal/service/capture"
	"github.com/zhouzirui/manomitra-client/internal/service/connection"
	"github.com/zhouzirui/manomitra-client/internal/service/export"
	"github.com/zhouzirui/manomitra-client/internal/service/session"
)

var errTimeout = errors.New("timed out waiting for the reply")

type options struct {
	url      string
	language string
	timeout  time.Duration
	verbose  bool
}

func main() {
	_ = godotenv.Load()

	opts := &options{}
	root := &cobra.Command{
		Use:           "sessiontester",
		Short:         "Drive a conversation session against a live endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.url, "url", "", "conversation endpoint (defaults to MANOMITRA_SERVER_URL)")
	root.PersistentFlags().StringVar(&opts.language, "lang", "", "language code: en or te")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "time to wait for each reply")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(textCommand(opts), audioCommand(opts), exportCommand(opts))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func textCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "text <message>...",
		Short: "Send typed turns, one per argument",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, waiter, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			for _, message := range args {
				if err := sendText(cmd.Context(), engine, waiter, message, opts.timeout); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func audioCommand(opts *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "audio",
		Short: "Submit a WAV file as a spoken turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, waiter, err := openSession(cmd.Context(), opts, capture.NewFileMicrophone(file))
			if err != nil {
				return err
			}
			defer engine.Close()

			waiter.expect()
			if err := engine.StartCapture(cmd.Context()); err != nil {
				return err
			}
			if err := engine.StopCapture(cmd.Context()); err != nil {
				return err
			}
			return waiter.wait(opts.timeout)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "16-bit PCM WAV file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func exportCommand(opts *options) *cobra.Command {
	var (
		out      string
		messages []string
		emotion  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run typed turns and write the conversation to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var criteria *conversation.Criteria
			if emotion != "" {
				tag, ok := conversation.ParseEmotion(emotion)
				if !ok {
					return fmt.Errorf("unknown emotion %q", emotion)
				}
				criteria = &conversation.Criteria{Emotion: tag}
			}

			engine, waiter, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			for _, message := range messages {
				if err := sendText(cmd.Context(), engine, waiter, message, opts.timeout); err != nil {
					return err
				}
			}

			doc := engine.Export(criteria)
			if err := export.WriteFile(out, doc); err != nil {
				return err
			}
			fmt.Printf("wrote %d turns to %s\n", doc.Count, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "conversation.json", "output file, .gz compresses")
	cmd.Flags().StringArrayVar(&messages, "text", nil, "typed turn to send before exporting (repeatable)")
	cmd.Flags().StringVar(&emotion, "emotion", "", "only export turns with this emotion")
	return cmd
}

func openSession(ctx context.Context, opts *options, mic capture.Microphone) (*session.Engine, *waiter, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger := logging.New(level, true)

	settings := cfg.Settings
	settings.AudioOutputEnabled = false
	if opts.language != "" {
		lang, ok := protocol.ParseLanguage(opts.language)
		if !ok {
			return nil, nil, fmt.Errorf("unsupported language %q", opts.language)
		}
		settings.Language = lang
	}

	url := cfg.Remote.URL
	if opts.url != "" {
		url = opts.url
	}
	remote := connection.DefaultOptions(url)
	remote.DialTimeout = cfg.Remote.DialTimeout
	remote.ReconnectAttempts = cfg.Remote.ReconnectAttempts

	engine := session.New(session.Options{
		Remote:     remote,
		Microphone: mic,
		Settings:   config.NewSettingsStore("", settings),
		MaxCapture: time.Duration(cfg.Audio.MaxCaptureSeconds) * time.Second,
		Logger:     logger,
	})

	w := newWaiter(logger)
	engine.Subscribe(w.handle)

	if err := engine.ConnectWithRetry(ctx); err != nil {
		engine.Close()
		return nil, nil, err
	}
	fmt.Printf("connected to %s (session %s)\n", url, engine.ID())
	return engine, w, nil
}

func sendText(ctx context.Context, engine *session.Engine, w *waiter, message string, timeout time.Duration) error {
	w.expect()
	if err := engine.SendText(ctx, message); err != nil {
		return err
	}
	return w.wait(timeout)
}

// waiter prints engine events and signals when a reply has arrived.
type waiter struct {
	done   chan error
	logger zerolog.Logger
}

func newWaiter(logger zerolog.Logger) *waiter {
	return &waiter{done: make(chan error, 1), logger: logger}
}

func (w *waiter) expect() {
	select {
	case <-w.done:
	default:
	}
}

func (w *waiter) wait(timeout time.Duration) error {
	select {
	case err := <-w.done:
		return err
	case <-time.After(timeout):
		return errTimeout
	}
}

func (w *waiter) signal(err error) {
	select {
	case w.done <- err:
	default:
	}
}

func (w *waiter) handle(event session.Event) {
	switch event.Type {
	case session.EventTurn:
		turn := event.Turn
		fmt.Printf("[%s] %s (%s, %s): %s\n", turn.Timestamp.Local().Format(time.TimeOnly), turn.Sender, turn.Modality, turn.Emotion, turn.Text)
		if turn.Sender == conversation.SenderAgent {
			w.signal(nil)
		}
	case session.EventEmotion:
		fmt.Printf("  emotion -> %s\n", event.Emotion)
	case session.EventNotice:
		fmt.Printf("  ! %s: %s\n", event.Notice.Kind, event.Notice.Message)
		w.signal(fmt.Errorf("%s error: %s", event.Notice.Kind, event.Notice.Message))
	case session.EventCapture:
		w.logger.Debug().Str("capture", string(event.State.Capture)).Msg("capture state")
	case session.EventConnection:
		if event.State.Connection == sessionmodel.Disconnected {
			w.signal(errors.New("connection closed"))
		}
	}
}
