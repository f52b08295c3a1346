// Package relay forwards the backend's diagnostic stream to the host.
package relay

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/loykin/sidecar/internal/metrics"
)

// EventName is the host event carrying one backend diagnostic line.
const EventName = "backend-log"

// DefaultPrefix marks relayed lines in the supervisor's own output.
const DefaultPrefix = "[backend] "

const (
	initialLineBuf = 64 * 1024
	maxLineSize    = 1024 * 1024
)

// Emitter delivers events to the hosting application.
// Emit must not retain line and should return quickly.
type Emitter interface {
	Emit(event, line string)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event, line string)

func (f EmitterFunc) Emit(event, line string) { f(event, line) }

// Relay reads Source line by line until it ends. Every line is written to
// Out (with Prefix), copied to Mirror when set, then emitted as EventName.
// Lines longer than maxLineSize are relayed as several consecutive lines.
type Relay struct {
	Source  io.ReadCloser
	Emitter Emitter
	Out     io.Writer // default os.Stdout
	Prefix  string    // default DefaultPrefix
	Mirror  io.Writer // optional file copy, unprefixed
	Logger  *slog.Logger

	lines atomic.Int64
	done  chan struct{}
}

// Start runs the relay on its own goroutine and returns immediately.
// The goroutine ends when Source reaches EOF or fails; the failure is not
// reported anywhere since it is the normal outcome of the child exiting.
func (r *Relay) Start() {
	r.done = make(chan struct{})
	go r.run()
}

// Done is closed once the relay has stopped reading.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Lines returns how many lines have been relayed so far.
func (r *Relay) Lines() int64 { return r.lines.Load() }

func (r *Relay) run() {
	defer close(r.done)
	defer func() { _ = r.Source.Close() }()

	out := r.Out
	if out == nil {
		out = os.Stdout
	}
	prefix := r.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}

	br := bufio.NewReaderSize(r.Source, initialLineBuf)
	var (
		buf     []byte
		chunked bool
	)
	for {
		frag, err := br.ReadSlice('\n')
		buf = append(buf, frag...)
		if errors.Is(err, bufio.ErrBufferFull) {
			// overlong lines go out in pieces of about maxLineSize
			if len(buf) >= maxLineSize {
				r.relayLine(out, prefix, string(buf))
				buf, chunked = buf[:0], true
			}
			continue
		}
		if len(buf) > 0 {
			line := strings.TrimSuffix(strings.TrimSuffix(string(buf), "\n"), "\r")
			if line != "" || !chunked {
				r.relayLine(out, prefix, line)
			}
			buf, chunked = buf[:0], false
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("Backend log relay ended", "error", err, "lines", r.lines.Load())
				// keep the pipe drained so the child never writes into a closed pipe
				_, _ = io.Copy(io.Discard, r.Source)
			}
			return
		}
	}
}

func (r *Relay) relayLine(out io.Writer, prefix, line string) {
	_, _ = io.WriteString(out, prefix+line+"\n")
	if r.Mirror != nil {
		_, _ = io.WriteString(r.Mirror, line+"\n")
	}
	if r.Emitter != nil {
		r.Emitter.Emit(EventName, line)
	}
	r.lines.Add(1)
	metrics.IncRelayLine()
}

// Emitters fans one event out to several emitters in order.
type Emitters []Emitter

func (es Emitters) Emit(event, line string) {
	for _, e := range es {
		if e != nil {
			e.Emit(event, line)
		}
	}
}
