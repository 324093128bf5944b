package capture

import (
	"fmt"
	"time"
)

// ConsoleEntry is one recorded console line.
type ConsoleEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	// HotReload tags dev-server reload noise. Tagged entries are still
	// recorded; the tag only dims them in display output.
	HotReload bool `json:"hot_reload,omitempty"`
}

// Exchange is one correlated request/response/failure record. Its id is
// assigned at request start and never changes; later events merge into the
// record and never replace it.
type Exchange struct {
	ID             string            `json:"id"`
	Method         string            `json:"method,omitempty"`
	URL            string            `json:"url,omitempty"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	StartedAt      time.Time         `json:"started_at,omitempty"`

	Status          int               `json:"status,omitempty"`
	StatusText      string            `json:"status_text,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	MimeType        string            `json:"mime_type,omitempty"`

	ErrorText string `json:"error_text,omitempty"`
	Canceled  bool   `json:"canceled,omitempty"`
}

// Merge copies the fields upd actually carries into e, overriding only those
// keys. Zero-valued fields of upd leave the existing values alone.
func (e *Exchange) Merge(upd Exchange) {
	if upd.Method != "" {
		e.Method = upd.Method
	}
	if upd.URL != "" {
		e.URL = upd.URL
	}
	if upd.RequestHeaders != nil {
		e.RequestHeaders = upd.RequestHeaders
	}
	if !upd.StartedAt.IsZero() {
		e.StartedAt = upd.StartedAt
	}
	if upd.Status != 0 {
		e.Status = upd.Status
	}
	if upd.StatusText != "" {
		e.StatusText = upd.StatusText
	}
	if upd.ResponseHeaders != nil {
		e.ResponseHeaders = upd.ResponseHeaders
	}
	if upd.MimeType != "" {
		e.MimeType = upd.MimeType
	}
	if upd.ErrorText != "" {
		e.ErrorText = upd.ErrorText
	}
	if upd.Canceled {
		e.Canceled = true
	}
}

// Buffer holds the in-memory capture state: two ordered sequences plus the
// exchange map. Not safe for concurrent use; the owning Capture serializes
// access.
type Buffer struct {
	console   []ConsoleEntry
	network   []string
	exchanges map[string]*Exchange
	seq       int
}

// NewBuffer creates an empty buffer with the sequence counter at zero.
func NewBuffer() *Buffer {
	return &Buffer{exchanges: make(map[string]*Exchange)}
}

// NextID allocates the next zero-padded sequence id.
func (b *Buffer) NextID() string {
	b.seq++
	return fmt.Sprintf("%03d", b.seq)
}

// AddConsole appends a console entry.
func (b *Buffer) AddConsole(e ConsoleEntry) {
	b.console = append(b.console, e)
}

// AddNetworkLine appends a network summary line.
func (b *Buffer) AddNetworkLine(line string) {
	b.network = append(b.network, line)
}

// PutExchange stores a new exchange keyed by its id.
func (b *Buffer) PutExchange(e *Exchange) {
	b.exchanges[e.ID] = e
}

// GetExchange looks up an exchange by id.
func (b *Buffer) GetExchange(id string) (*Exchange, bool) {
	e, ok := b.exchanges[id]
	return e, ok
}

// ConsoleEntries returns a copy of the console sequence.
func (b *Buffer) ConsoleEntries() []ConsoleEntry {
	out := make([]ConsoleEntry, len(b.console))
	copy(out, b.console)
	return out
}

// NetworkLines returns a copy of the network summary sequence.
func (b *Buffer) NetworkLines() []string {
	out := make([]string, len(b.network))
	copy(out, b.network)
	return out
}

// Exchanges returns a copy of the exchange map values keyed by id.
func (b *Buffer) Exchanges() map[string]Exchange {
	out := make(map[string]Exchange, len(b.exchanges))
	for id, e := range b.exchanges {
		out[id] = *e
	}
	return out
}

// Counts reports the buffered entry counts.
func (b *Buffer) Counts() (console, network, exchanges int) {
	return len(b.console), len(b.network), len(b.exchanges)
}

// Clear empties both sequences and the exchange map and resets the sequence
// counter to zero.
func (b *Buffer) Clear() {
	b.console = nil
	b.network = nil
	b.exchanges = make(map[string]*Exchange)
	b.seq = 0
}
