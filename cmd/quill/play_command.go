package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/events"
	"quill/internal/playback"
	"quill/internal/player"
)

const playHelp = `Controls: p pause/resume  s stop  f mark finished  m mute
          + / - volume  > / < seek 30s fwd / 15s back
          seek <secs>  vol <0-100>  rate <x>  q quit`

func newPlayCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "play <episode-id>",
		Short: "Play an episode through mpv",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := parseID(args[0], "episode")
			if err != nil {
				return err
			}
			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return ctx.withRuntime(sigCtx, func(rt *runtime) error {
				adapter := player.NewMPV(rt.cfg, rt.logger)
				defer adapter.Close()

				coordinator := playback.NewCoordinator(rt.cfg, rt.store, adapter, rt.bus, rt.logger)
				if err := coordinator.Start(sigCtx); err != nil {
					return fmt.Errorf("start playback coordinator: %w", err)
				}
				defer coordinator.Stop()

				evts, cancelSub := rt.bus.SubscribeBuffer(256)
				defer cancelSub()

				if err := coordinator.Play(sigCtx, episodeID); err != nil {
					if errors.Is(err, playback.ErrEpisodeNotFound) {
						return fmt.Errorf("episode %d not found", episodeID)
					}
					return err
				}

				out := cmd.OutOrStdout()
				interactive := shouldColorize(out) && shouldColorize(os.Stdin)
				if interactive {
					fmt.Fprintln(out, playHelp)
				}
				input := make(chan string)
				go readInputLines(os.Stdin, input)

				return playLoop(sigCtx, coordinator, evts, input, out, interactive)
			})
		},
	}
}

func readInputLines(r io.Reader, out chan<- string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- strings.TrimSpace(scanner.Text())
	}
	close(out)
}

// playLoop renders playback progress and applies control commands until
// the stream stops, fails, or the user quits.
func playLoop(ctx context.Context, coordinator *playback.Coordinator, evts <-chan events.Event, input <-chan string, out io.Writer, interactive bool) error {
	var (
		lastState string
		started   bool
	)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case evt, ok := <-evts:
			if !ok {
				return nil
			}
			switch e := evt.(type) {
			case events.PlaybackStateChanged:
				if e.State != lastState {
					if interactive && lastState != "" {
						fmt.Fprintln(out)
					}
					fmt.Fprintf(out, "[%s]\n", e.State)
					lastState = e.State
				}
				switch e.State {
				case string(playback.StatePlaying):
					started = true
					renderProgress(out, interactive, e.Position, e.Duration)
				case string(playback.StateStopped):
					if started {
						return nil
					}
				case string(playback.StateError):
					return errors.New("playback failed; see the episode's error code")
				}
			case events.VolumeChanged:
				if e.Muted {
					fmt.Fprintln(out, "volume: muted")
				} else {
					fmt.Fprintf(out, "volume: %d%%\n", e.Volume)
				}
			case events.RateChanged:
				fmt.Fprintf(out, "rate: %.2fx\n", e.Rate)
			}
		case line, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			done, err := applyControl(ctx, coordinator, line, out)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if done {
				return nil
			}
		}
	}
}

func renderProgress(out io.Writer, interactive bool, position, duration time.Duration) {
	if !interactive {
		return
	}
	fmt.Fprintf(out, "\r%s / %s ", formatDuration(position), formatDuration(duration))
}

func applyControl(ctx context.Context, coordinator *playback.Coordinator, line string, out io.Writer) (done bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	switch fields[0] {
	case "p", "pause":
		return false, coordinator.TogglePause(ctx)
	case "s", "stop":
		return true, coordinator.StopPlayback(ctx)
	case "f", "finish":
		return true, coordinator.Finish(ctx)
	case "q", "quit":
		return true, coordinator.StopPlayback(ctx)
	case "m", "mute":
		return false, coordinator.ToggleMute(ctx)
	case "+":
		return false, coordinator.AdjustVolume(ctx, 5)
	case "-":
		return false, coordinator.AdjustVolume(ctx, -5)
	case ">":
		return false, coordinator.SeekRelative(ctx, 30*time.Second)
	case "<":
		return false, coordinator.SeekRelative(ctx, -15*time.Second)
	case "seek":
		if len(fields) != 2 {
			return false, errors.New("usage: seek <seconds>")
		}
		secs, perr := strconv.ParseFloat(fields[1], 64)
		if perr != nil || secs < 0 {
			return false, fmt.Errorf("invalid seek target %q", fields[1])
		}
		return false, coordinator.SeekAbsolute(ctx, time.Duration(secs*float64(time.Second)))
	case "vol", "volume":
		if len(fields) != 2 {
			return false, errors.New("usage: vol <0-100>")
		}
		percent, perr := strconv.Atoi(fields[1])
		if perr != nil {
			return false, fmt.Errorf("invalid volume %q", fields[1])
		}
		return false, coordinator.SetVolume(ctx, percent)
	case "rate":
		if len(fields) != 2 {
			return false, errors.New("usage: rate <multiplier>")
		}
		rate, perr := strconv.ParseFloat(fields[1], 64)
		if perr != nil {
			return false, fmt.Errorf("invalid rate %q", fields[1])
		}
		return false, coordinator.SetRate(ctx, rate)
	case "h", "help", "?":
		fmt.Fprintln(out, playHelp)
		return false, nil
	default:
		fmt.Fprintf(out, "unknown command %q (h for help)\n", fields[0])
		return false, nil
	}
}
