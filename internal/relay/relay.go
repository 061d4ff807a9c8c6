// Package relay forwards a worker's output streams to a line sink.
//
// [Attach] starts one reader per output stream and a single forwarder. Each
// complete line is tagged with its [Channel] and handed to the sink in arrival
// order through a bounded channel, so a slow sink applies backpressure to the
// readers instead of growing an unbounded buffer. The final unterminated line
// of a stream is forwarded when the stream reaches EOF.
package relay

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Channel identifies which worker stream a line came from.
type Channel string

const (
	Stdout Channel = "stdout"
	Stderr Channel = "stderr"

	// Progress tags carriage-return lines, which overwrite the previous
	// progress line instead of adding to the log.
	Progress Channel = "progress"
)

// DefaultBufferSize is the number of lines queued between readers and the sink.
const DefaultBufferSize = 64

// MaxLineSize is the longest line forwarded as one [Line]. Longer lines are
// split into consecutive lines of at most MaxLineSize bytes.
const MaxLineSize = 10 * 1024 * 1024

// Line is one forwarded output line without its terminator.
type Line struct {
	Channel Channel
	Text    string
}

// Sink receives forwarded lines. WriteLine is only ever called from one
// goroutine at a time.
type Sink interface {
	WriteLine(Line)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(Line)

// WriteLine implements [Sink].
func (f SinkFunc) WriteLine(l Line) { f(l) }

// Discard drops every line.
var Discard Sink = SinkFunc(func(Line) {})

// Relay is an attached set of readers. Use [Relay.Wait] to block until every
// line has been delivered.
type Relay struct {
	lines chan Line
	group errgroup.Group
	done  chan struct{}
	err   error
}

// Attach starts forwarding stdout and stderr to sink. Either reader may be nil.
// buffer bounds the number of queued lines; values below 1 use
// [DefaultBufferSize].
func Attach(stdout, stderr io.Reader, sink Sink, buffer int) *Relay {
	if buffer < 1 {
		buffer = DefaultBufferSize
	}
	if sink == nil {
		sink = Discard
	}

	r := &Relay{
		lines: make(chan Line, buffer),
		done:  make(chan struct{}),
	}

	if stdout != nil {
		r.group.Go(func() error { return r.read(stdout, Stdout) })
	}
	if stderr != nil {
		r.group.Go(func() error { return r.read(stderr, Stderr) })
	}

	go func() {
		r.err = r.group.Wait()
		close(r.lines)
	}()

	go func() {
		defer close(r.done)
		for line := range r.lines {
			sink.WriteLine(line)
		}
	}()

	return r
}

// Wait blocks until both streams hit EOF and the sink has received every line.
// It returns the first read error, if any.
func (r *Relay) Wait() error {
	<-r.done
	return r.err
}

func (r *Relay) read(src io.Reader, ch Channel) error {
	br := bufio.NewReaderSize(src, readBufferSize)
	var line []byte
	for {
		chunk, err := br.ReadSlice('\n')
		line = append(line, chunk...)

		switch {
		case err == bufio.ErrBufferFull:
			// Lines longer than MaxLineSize are forwarded in pieces.
			for len(line) >= MaxLineSize {
				r.lines <- Classify(ch, string(line[:MaxLineSize]))
				line = append(line[:0], line[MaxLineSize:]...)
			}
		case err == nil:
			r.lines <- Classify(ch, trimEOL(line))
			line = line[:0]
		default:
			if len(line) > 0 {
				r.lines <- Classify(ch, trimEOL(line))
			}
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("relay %s: %w", ch, err)
		}
	}
}

// readBufferSize is the reader's buffer. Lines longer than this are assembled
// across reads.
const readBufferSize = 64 * 1024

func trimEOL(b []byte) string {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return string(bytes.TrimSuffix(b, []byte("\r")))
}

// Classify tags a raw line. Lines starting with a carriage return become
// [Progress] lines holding the text after the last carriage return.
func Classify(ch Channel, text string) Line {
	if strings.HasPrefix(text, "\r") {
		return Line{Channel: Progress, Text: text[strings.LastIndex(text, "\r")+1:]}
	}
	return Line{Channel: ch, Text: text}
}

// LineWriter is an io.Writer that forwards complete lines to a sink. It is
// used for output produced by operations running in-process.
type LineWriter struct {
	sink    Sink
	channel Channel

	mu  sync.Mutex
	buf bytes.Buffer
}

// Writer returns a [LineWriter] tagging lines with ch.
func Writer(sink Sink, ch Channel) *LineWriter {
	if sink == nil {
		sink = Discard
	}
	return &LineWriter{sink: sink, channel: ch}
}

// Write implements io.Writer.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		text := strings.TrimSuffix(string(w.buf.Next(i+1)[:i]), "\r")
		w.sink.WriteLine(Classify(w.channel, text))
	}
	return len(p), nil
}

// Flush forwards a trailing partial line, if any.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return
	}
	text := w.buf.String()
	w.buf.Reset()
	w.sink.WriteLine(Classify(w.channel, text))
}
