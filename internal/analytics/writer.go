package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultBuffer = 1024

// writeTimeout bounds a single sink insert so a wedged database cannot stall
// the drain loop forever.
const writeTimeout = 5 * time.Second

// Writer decouples the request path from sink latency. Record enqueues and
// returns immediately; a single background goroutine performs the inserts.
// When the buffer is full the record is dropped, never the request.
type Writer struct {
	sink Sink
	ch   chan Record
	done chan struct{}
	wg   sync.WaitGroup
}

// NewWriter starts the background writer over sink. buffer <= 0 selects the
// default capacity.
func NewWriter(sink Sink, buffer int) *Writer {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	w := &Writer{
		sink: sink,
		ch:   make(chan Record, buffer),
		done: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Record enqueues a decision record without blocking.
func (w *Writer) Record(rec Record) {
	select {
	case w.ch <- rec:
	default:
		log.Warn().
			Str("client_id", rec.ClientID).
			Str("endpoint", rec.Endpoint).
			Msg("analytics buffer full, dropping record")
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()
	for {
		select {
		case rec := <-w.ch:
			w.write(rec)
		case <-w.done:
			// drain what is already buffered, then exit
			for {
				select {
				case rec := <-w.ch:
					w.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := w.sink.Store(ctx, rec); err != nil {
		log.Error().Err(err).Msg("failed to store analytics record")
	}
}

// Close drains buffered records and stops the writer. It does not close the
// sink; the owner does that after Close returns.
func (w *Writer) Close() error {
	close(w.done)
	w.wg.Wait()
	return nil
}
