// Package journal implements the append-only attempt journal.
//
// The journal is a stream of length-prefixed msgpack frames recording every
// attempt start, phase transition, and outcome across a run. It is written
// as the run progresses and read back by the list/stats commands; losing it
// never affects correctness.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/oranbench/gridrunner/types"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size, including length prefix.
	MaxFrameSize = 1 * 1024 * 1024
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
	// MaxPayloadSize is the maximum payload size.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError represents a frame encoding or decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Writer appends journal records to a stream.
// Safe for concurrent use; assigns monotonic sequence numbers.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	c   io.Closer
	seq int64
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// OpenFile opens (or creates) a journal file for appending.
func OpenFile(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &Writer{w: f, c: f}, nil
}

// Append writes one record, stamping its sequence number and timestamp.
func (w *Writer) Append(rec *types.JournalRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	rec.Seq = w.seq
	if rec.Ts == "" {
		rec.Ts = time.Now().UTC().Format(time.RFC3339Nano)
	}

	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return &FrameError{Kind: FrameErrorDecode, Msg: "journal: encode record", Err: err}
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("journal: payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := w.w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("journal: write length prefix: %w", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("journal: write payload: %w", err)
	}
	return nil
}

// Close closes the underlying file, if the Writer owns one.
func (w *Writer) Close() error {
	if w.c != nil {
		return w.c.Close()
	}
	return nil
}

// Reader decodes journal records from a stream.
type Reader struct {
	r io.Reader
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next reads the next record.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more records)
//   - *FrameError with Kind=FrameErrorPartial: truncated frame
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit
//   - *FrameError with Kind=FrameErrorDecode: msgpack decode failure
func (r *Reader) Next() (*types.JournalRecord, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(r.r, lengthBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "journal: read length prefix", Err: err}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("journal: payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "journal: read payload", Err: err}
	}

	var rec types.JournalRecord
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "journal: decode record", Err: err}
	}
	return &rec, nil
}

// ReadFile reads all records from a journal file.
// A trailing truncated frame (interrupted run) is tolerated: complete
// records before it are returned.
func ReadFile(path string) ([]*types.JournalRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var records []*types.JournalRecord
	r := NewReader(f)
	for {
		rec, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			var ferr *FrameError
			if errors.As(err, &ferr) && ferr.Kind == FrameErrorPartial {
				return records, nil
			}
			return records, err
		}
		records = append(records, rec)
	}
}
