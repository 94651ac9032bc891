package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/adi-253/talkie-chat/internal/handlers"
	"github.com/adi-253/talkie-chat/internal/services"
	"github.com/adi-253/talkie-chat/internal/session"
	"github.com/adi-253/talkie-chat/internal/voice"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const scopeArgs = "<group|support|community> [id]"

// withSession signs in, opens one scope and hands its session to fn.
func withSession(realtimeOn bool, args []string, fn func(ctx context.Context, a *app, s *session.Session) error) error {
	kind, id, err := parseScope(args)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, realtimeOn)
	if err != nil {
		return err
	}
	defer a.close()

	sessions := a.manager(nil)
	defer sessions.CloseAll()

	s, err := sessions.Open(ctx, kind, id)
	if err != nil {
		return err
	}
	return fn(ctx, a, s)
}

func printTimeline(ctx context.Context, w io.Writer, a *app, s *session.Session) {
	fmt.Fprintln(w, handlers.Render(ctx, s, a.profiles, time.Local, a.logger).Text())
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history " + scopeArgs,
		Short: "Print the timeline of a conversation",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(false, args, func(ctx context.Context, a *app, s *session.Session) error {
				printTimeline(ctx, cmd.OutOrStdout(), a, s)
				return nil
			})
		},
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send " + scopeArgs + " <text>",
		Short: "Send a text message",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := args[len(args)-1]
			return withSession(false, args[:len(args)-1], func(ctx context.Context, a *app, s *session.Session) error {
				ref, err := s.Store.SendText(body)
				if err != nil {
					return err
				}
				s.Store.Wait()
				return confirmed(cmd.OutOrStdout(), s, ref)
			})
		},
	}
}

// confirmed reports whether the optimistic entry ref survived.
func confirmed(w io.Writer, s *session.Session, ref services.Ref) error {
	for _, e := range s.Store.Snapshot() {
		if e.Ref == ref {
			return errors.New("send still pending")
		}
	}
	if draft := s.Store.Draft().Text(); draft != "" {
		return fmt.Errorf("send failed, message not delivered: %q", draft)
	}
	fmt.Fprintln(w, "sent")
	return nil
}

func voiceCmd() *cobra.Command {
	var (
		device  string
		maxLen  time.Duration
		file    string
		seconds float64
	)
	cmd := &cobra.Command{
		Use:   "voice " + scopeArgs,
		Short: "Record a voice message and send it (Ctrl-C stops the recording)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(false, args, func(ctx context.Context, a *app, s *session.Session) error {
				out := cmd.OutOrStdout()
				clip := voice.Clip{Path: file, Duration: time.Duration(seconds * float64(time.Second))}
				if file == "" {
					var err error
					clip, err = record(ctx, out, a, s, device, maxLen)
					if err != nil {
						return err
					}
				}
				if info, err := os.Stat(clip.Path); err == nil {
					fmt.Fprintf(out, "sending %s clip (%s)\n", humanize.Bytes(uint64(info.Size())), clip.Duration.Round(time.Second))
				}
				if _, err := s.Store.SendVoice(clip.Path, clip.Duration); err != nil {
					return err
				}
				s.Store.Wait()
				for _, e := range s.Store.Snapshot() {
					if _, done := e.Ref.(services.Confirmed); done && e.LocalPath != "" && e.LocalPath == absPath(clip.Path) {
						fmt.Fprintln(out, "sent")
						return nil
					}
				}
				return errors.New("voice message was not delivered")
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "default", "ALSA capture device passed to arecord")
	cmd.Flags().DurationVar(&maxLen, "max", 2*time.Minute, "stop recording after this long")
	cmd.Flags().StringVar(&file, "file", "", "send an existing clip instead of recording")
	cmd.Flags().Float64Var(&seconds, "seconds", 0, "duration of --file in seconds")
	return cmd
}

// record captures one clip from arecord, broadcasting the recording signal
// and drawing a level meter while it runs.
func record(ctx context.Context, w io.Writer, a *app, s *session.Session, device string, maxLen time.Duration) (voice.Clip, error) {
	dev := &voice.PCMDevice{
		Source:     voice.CommandSource("arecord", "-q", "-D", device, "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "raw"),
		SampleRate: 16000,
		Channels:   1,
	}
	rec := voice.NewRecorder(dev, voice.Options{
		AmplitudeInterval: a.cfg.AmplitudeInterval,
		Metrics:           a.metrics,
		Logger:            a.logger,
	})
	// arecord must outlive the interrupt that ends the recording
	recCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rec.Start(recCtx); err != nil {
		return voice.Clip{}, err
	}
	defer s.Emitter.RecordingStop(context.Background())

	fmt.Fprintln(w, "recording, Ctrl-C to stop")
	limit := time.NewTimer(maxLen)
	defer limit.Stop()
	for {
		select {
		case level := <-rec.Amplitudes():
			s.Emitter.Recording(ctx)
			fmt.Fprintf(w, "\r%s %-20s", formatElapsed(rec.Elapsed()), strings.Repeat("|", int(level*20)))
		case <-limit.C:
			fmt.Fprintln(w)
			return rec.Stop()
		case <-ctx.Done():
			fmt.Fprintln(w)
			return rec.Stop()
		}
	}
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch " + scopeArgs,
		Short: "Follow a conversation live, reprinting the timeline on every change",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(true, args, func(ctx context.Context, a *app, s *session.Session) error {
				out := cmd.OutOrStdout()
				printTimeline(ctx, out, a, s)
				messages, presence := s.Store.Changes(), s.Tracker.Changes()
				for {
					select {
					case _, ok := <-messages:
						if !ok {
							return nil
						}
					case _, ok := <-presence:
						if !ok {
							return nil
						}
					case <-ctx.Done():
						return nil
					case <-s.Done():
						return nil
					}
					fmt.Fprint(out, "\033[H\033[2J")
					printTimeline(ctx, out, a, s)
				}
			})
		},
	}
}
