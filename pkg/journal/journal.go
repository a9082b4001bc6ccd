package journal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"tradecore/pkg/exchange"
)

// Record is the durable form of one canonical event. Decimal fields are
// stored as strings to avoid precision loss.
type Record struct {
	Seq       int       `msgpack:"seq"`
	Timestamp time.Time `msgpack:"ts"`
	Account   string    `msgpack:"account"`
	Kind      string    `msgpack:"kind"`

	ClientOrderID   string `msgpack:"cloid,omitempty"`
	ExchangeOrderID string `msgpack:"eoid,omitempty"`
	Status          string `msgpack:"status,omitempty"`
	FilledAmount    string `msgpack:"filled,omitempty"`
	Source          string `msgpack:"source,omitempty"`

	Balances  map[string]string `msgpack:"balances,omitempty"`
	Positions map[string]string `msgpack:"positions,omitempty"`
}

// Writer appends canonical events to a msgpack log file for audit and
// post-mortem analysis.
type Writer struct {
	mu    sync.Mutex
	file  *os.File
	enc   *msgpack.Encoder
	seq   int
	nowFn func() time.Time
}

// NewWriter opens a timestamped event log in dir, creating it as needed.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		dir = "journal"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	name := fmt.Sprintf("events_%s.mpk", time.Now().UTC().Format("20060102_150405"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open log: %w", err)
	}
	return &Writer{file: file, enc: msgpack.NewEncoder(file), nowFn: time.Now}, nil
}

// Path returns the log file path.
func (w *Writer) Path() string { return w.file.Name() }

// Append records one event.
func (w *Writer) Append(ev exchange.Event) error {
	if ev == nil {
		return fmt.Errorf("journal: nil event")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	rec := toRecord(ev)
	rec.Seq = w.seq
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("journal: encode record: %w", err)
	}
	return nil
}

// Close flushes and closes the log file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func toRecord(ev exchange.Event) *Record {
	rec := &Record{
		Timestamp: ev.EventTime(),
		Account:   ev.EventAccount().String(),
	}
	switch e := ev.(type) {
	case exchange.OrderUpdate:
		rec.Kind = "order"
		rec.ClientOrderID = string(e.ClientOrderID)
		rec.ExchangeOrderID = string(e.ExchangeOrderID)
		rec.Status = string(e.Status)
		rec.FilledAmount = e.FilledAmount.String()
		rec.Source = string(e.Source)
	case exchange.BalanceUpdate:
		rec.Kind = "balance"
		rec.Balances = make(map[string]string, len(e.Balances))
		for _, b := range e.Balances {
			rec.Balances[b.Currency] = b.Amount.String()
		}
	case exchange.PositionUpdate:
		rec.Kind = "position"
		rec.Positions = make(map[string]string, len(e.Positions))
		for _, p := range e.Positions {
			rec.Positions[p.Pair.String()] = p.Amount.String()
		}
	default:
		rec.Kind = "unknown"
	}
	return rec
}

// ReadAll decodes every record in a log file, oldest first.
func ReadAll(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open log: %w", err)
	}
	defer file.Close()

	dec := msgpack.NewDecoder(file)
	var records []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return nil, fmt.Errorf("journal: decode record: %w", err)
		}
		records = append(records, rec)
	}
}
