package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bt-bridge/chronovoice/shared"
	"github.com/bt-bridge/chronovoice/tools"
	"go.uber.org/zap"
)

// InputContext is the capture side of the graph, running at a fixed rate over
// one microphone stream.
type InputContext struct {
	mu      sync.Mutex
	stream  Stream
	rate    int
	running bool
	closed  bool
}

func newInputContext(stream Stream, rate int) *InputContext {
	return &InputContext{stream: stream, rate: rate}
}

func (c *InputContext) SampleRate() int {
	return c.rate
}

func (c *InputContext) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	if c.stream == nil {
		return errors.New("no capture stream")
	}
	c.running = true
	return nil
}

func (c *InputContext) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && !c.closed
}

// Close stops the context. The microphone stream stays owned by the caller.
func (c *InputContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.running = false
	return nil
}

// FrameSource reblocks a capture stream into fixed-size mono blocks.
type FrameSource struct {
	stream    Stream
	rate      int
	blockSize int
	logger    shared.LoggerAdapter

	started      atomic.Bool
	disconnected atomic.Bool
	once         sync.Once
	// held while a block is with the callback
	delivering sync.Mutex
}

func newFrameSource(stream Stream, rate, blockSize int, logger shared.LoggerAdapter) *FrameSource {
	return &FrameSource{
		stream:    stream,
		rate:      rate,
		blockSize: blockSize,
		logger:    logger,
	}
}

func (f *FrameSource) BlockSize() int {
	return f.blockSize
}

// Start delivers blocks to onBlock, one at a time, on a dedicated goroutine.
// It may be called once.
func (f *FrameSource) Start(onBlock func(block []float32)) error {
	if onBlock == nil {
		return errors.New("block handler is required")
	}
	if f.disconnected.Load() {
		return ErrContextClosed
	}
	if !f.started.CompareAndSwap(false, true) {
		return errors.New("frame source already started")
	}
	go f.run(onBlock)
	return nil
}

func (f *FrameSource) run(onBlock func(block []float32)) {
	pending := make([]float32, 0, f.blockSize*2)
	for {
		samples, err := f.stream.Read()
		if f.disconnected.Load() {
			return
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				f.logger.Error("reading capture stream", err)
			}
			f.logger.Debug("capture stream ended")
			return
		}
		if sr := f.stream.SampleRate(); sr > 0 && sr != f.rate {
			samples = tools.Resample(samples, sr, f.rate)
		}
		pending = append(pending, samples...)
		for len(pending) >= f.blockSize {
			block := make([]float32, f.blockSize)
			copy(block, pending)
			n := copy(pending, pending[f.blockSize:])
			pending = pending[:n]
			if !f.deliver(onBlock, block) {
				return
			}
		}
	}
}

func (f *FrameSource) deliver(onBlock func(block []float32), block []float32) bool {
	f.delivering.Lock()
	defer f.delivering.Unlock()
	if f.disconnected.Load() {
		return false
	}
	onBlock(block)
	return true
}

// Disconnect stops delivery and waits for a block that is already with the
// callback, so no block arrives after it returns. It must not be called from
// the callback.
func (f *FrameSource) Disconnect() {
	f.once.Do(func() {
		f.disconnected.Store(true)
		f.logger.Trace("frame source disconnected", zap.Int("block_size", f.blockSize))
	})
	f.delivering.Lock()
	f.delivering.Unlock()
}
