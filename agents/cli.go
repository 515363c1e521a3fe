package agents

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bt-bridge/chronovoice"
	"github.com/bt-bridge/chronovoice/shared"
	"go.uber.org/zap"
)

const (
	statusInterval = time.Second
	volumeBarWidth = 10
)

// Controller is what the CLI agent drives.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect()
	Toggle(ctx context.Context) error
	Snapshot() chronovoice.Snapshot
	Subscribe(fn func(chronovoice.Snapshot))
}

var _ Controller = (*chronovoice.Controller)(nil)

type CLIState struct {
	prev chronovoice.ConnectionState
}

func NewCLIState() *CLIState {
	return &CLIState{prev: chronovoice.StateDisconnected}
}

// CLIAgent renders the talking clock in a terminal: a status line with the
// local time, the connection state, the playback volume and the last error.
// Each line read from input toggles the session.
type CLIAgent struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
	ctrl    Controller
	state   *CLIState
	now     func() time.Time

	done     chan struct{}
	doneOnce sync.Once
	mu       sync.Mutex
}

func (a *CLIAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	ctrl Controller,
	cfg *shared.Config,
	printer *shared.Printer,
	input io.Reader,
) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if ctrl == nil {
		return errors.New("no controller provided")
	}
	if cfg == nil {
		return shared.ErrNoConfig
	}
	if printer == nil {
		return errors.New("no printer provided")
	}
	a.logger = logger.With(zap.String("component", "cli_agent"))
	a.printer = printer
	a.ctrl = ctrl
	a.state = NewCLIState()
	a.done = make(chan struct{})
	if a.now == nil {
		a.now = time.Now
	}
	a.logger.Info("spawning CLI agent")
	a.println("🕰  Spawning talking clock...\n", 0)

	a.println("📋 Session Config\n", 0)
	dump, err := cfg.Dump()
	if err != nil {
		a.logger.Error("marshaling config to yaml", err)
		return err
	}
	if err := a.printer.Write(string(dump), 1); err != nil {
		a.logger.Error("printing config", err)
		return err
	}
	a.println("", 0)

	ctrl.Subscribe(a.onState)
	go a.render(ctx)
	if input != nil {
		a.println("⏎  Press Enter to connect or disconnect.\n", 0)
		go a.readInput(ctx, input)
	}

	a.println("🎤 Connecting...", 0)
	if err := ctrl.Connect(ctx); err != nil {
		// the failure is already on screen through onState
		a.logger.Warn("initial connect failed", zap.Error(err), zap.String("kind", shared.Kind(err)))
	}
	return nil
}

// Done is closed once Close has torn the session down.
func (a *CLIAgent) Done() <-chan struct{} {
	return a.done
}

func (a *CLIAgent) Close() error {
	a.ctrl.Disconnect()
	a.doneOnce.Do(func() { close(a.done) })
	a.logger.Info("CLI agent closed")
	return nil
}

func (a *CLIAgent) onState(snap chronovoice.Snapshot) {
	a.mu.Lock()
	prev := a.state.prev
	a.state.prev = snap.State
	a.mu.Unlock()

	switch snap.State {
	case chronovoice.StateConnected:
		a.println("\n✅ Connected. Chronos is listening.", 0)
	case chronovoice.StateError:
		a.println("\n❌ "+snap.Error, 0)
	case chronovoice.StateDisconnected:
		if prev == chronovoice.StateConnected || prev == chronovoice.StateConnecting {
			a.println("\n👋 Disconnected.", 0)
		}
	}
}

func (a *CLIAgent) render(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case <-ticker.C:
			if err := a.printer.Status(StatusLine(a.now(), a.ctrl.Snapshot())); err != nil {
				a.logger.Error("printing status line", err)
			}
		}
	}
}

func (a *CLIAgent) readInput(ctx context.Context, input io.Reader) {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		err := a.ctrl.Toggle(ctx)
		switch {
		case err == nil:
		case errors.Is(err, shared.ErrConnectInProgress):
			a.println("\n⏳ Still connecting...", 0)
		default:
			a.logger.Warn("toggling session", zap.Error(err))
		}
	}
	if err := scanner.Err(); err != nil {
		a.logger.Warn("reading input", zap.Error(err))
	}
}

func (a *CLIAgent) println(s string, ind int) {
	if err := a.printer.Writeln(s, ind); err != nil {
		a.logger.Error("printing message", err)
	}
}

// StatusLine renders the clock widget, the state, the volume bar and the
// error banner for one tick.
func StatusLine(now time.Time, snap chronovoice.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🕰  %s  %s  %s", now.Format("15:04:05 Mon Jan 2"), stateLabel(snap.State), VolumeBar(snap.Volume, volumeBarWidth))
	if snap.State == chronovoice.StateError && snap.Error != "" {
		b.WriteString("  ⚠ ")
		b.WriteString(snap.Error)
	}
	return b.String()
}

func stateLabel(s chronovoice.ConnectionState) string {
	switch s {
	case chronovoice.StateConnected:
		return "● live"
	case chronovoice.StateConnecting:
		return "◌ connecting"
	case chronovoice.StateError:
		return "✖ error"
	default:
		return "○ idle"
	}
}

// VolumeBar draws v in [0, 1] as a fixed-width bar.
func VolumeBar(v float64, width int) string {
	v = min(max(v, 0), 1)
	filled := int(v*float64(width) + 0.5)
	return "[" + strings.Repeat("▮", filled) + strings.Repeat("▯", width-filled) + "]"
}
