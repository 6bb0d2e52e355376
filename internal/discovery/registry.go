package discovery

import (
	"strings"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ViewSubscriber receives the filtered view whenever it is republished.
//
// The slice and the records it points to are an immutable snapshot:
// subscribers must never mutate them. Callbacks run synchronously on the
// goroutine that triggered the recompute and should return quickly.
type ViewSubscriber func(view []*DeviceRecord)

// Options configures a Registry at construction.
//
// The service UUID and RSSI threshold are injected here rather than read
// from globals so tests and multi-instance deployments can vary them.
type Options struct {
	// ServiceUUID is the service identifier the service criterion matches.
	ServiceUUID string

	// RSSIThreshold is the minimum high-watermark RSSI (dBm) for the
	// nearby criterion.
	RSSIThreshold int

	// RequireService enables the service criterion at construction.
	RequireService bool

	// RequireNearby enables the nearby criterion at construction.
	RequireNearby bool

	// Logger receives registry lifecycle events. Optional.
	Logger Logger
}

// Registry accumulates raw scan observations into unique device records
// and maintains a criteria-filtered, insertion-ordered view of them.
//
// The registry is the single writer of the record set: scan observations
// arrive from MQTT delivery goroutines while criteria changes and resets
// arrive from HTTP handlers, and one mutex serialises all of them. The
// published view is replaced wholesale on every recompute, never mutated
// in place, so subscribers always observe a consistent snapshot.
type Registry struct {
	mu sync.Mutex

	serviceUUID   string
	rssiThreshold int

	requireService bool
	requireNearby  bool

	// records holds one entry per observed address; order preserves
	// discovery order for the filtered view.
	records map[string]*DeviceRecord
	order   []string

	// view is the last published filtered snapshot; viewAddrs indexes its
	// membership for the Observe short-circuit.
	view      []*DeviceRecord
	viewAddrs map[string]struct{}

	subscribers []ViewSubscriber

	logger Logger
}

// New creates a Registry with the given options.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Registry{
		serviceUUID:    strings.ToLower(opts.ServiceUUID),
		rssiThreshold:  opts.RSSIThreshold,
		requireService: opts.RequireService,
		requireNearby:  opts.RequireNearby,
		records:        make(map[string]*DeviceRecord),
		viewAddrs:      make(map[string]struct{}),
		logger:         logger,
	}
}

// Observe folds a raw scan observation into the record set.
//
// It looks up or creates the record for the event's address, updates the
// latest RSSI, the high-watermark, and the name (kept when the event
// carries one), and reports whether the device is "interesting": already
// present in the last published view, or newly satisfying both active
// criteria. Callers use the result to decide whether to trigger a
// recompute without paying for one on every scan tick.
//
// A non-empty Address is a caller precondition; the bridge validates
// scan messages before they reach the registry.
func (r *Registry) Observe(ev ScanEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[ev.Address]
	if !ok {
		rec = &DeviceRecord{
			Address:   ev.Address,
			MaxRSSI:   ev.RSSI,
			FirstSeen: r.eventTime(ev),
		}
		r.records[ev.Address] = rec
		r.order = append(r.order, ev.Address)
	}

	rec.RSSI = ev.RSSI
	if ev.RSSI > rec.MaxRSSI {
		rec.MaxRSSI = ev.RSSI
	}
	if ev.Name != "" {
		rec.Name = ev.Name
	}
	if ev.ServiceUUIDs != nil {
		rec.ServiceUUIDs = append(rec.ServiceUUIDs[:0], ev.ServiceUUIDs...)
	}
	if ev.Payload != nil {
		rec.Payload = append(rec.Payload[:0], ev.Payload...)
	}
	if ev.ScannerID != "" {
		rec.ScannerID = ev.ScannerID
	}
	rec.LastSeen = r.eventTime(ev)
	rec.Observations++

	if _, inView := r.viewAddrs[ev.Address]; inView {
		return true
	}
	return r.matchesLocked(rec)
}

// eventTime returns the event's timestamp, falling back to now.
func (r *Registry) eventTime(ev ScanEvent) time.Time {
	if !ev.ObservedAt.IsZero() {
		return ev.ObservedAt
	}
	return time.Now().UTC()
}

// Reset clears all records and publishes an empty view.
// Every prior identity is forgotten; a previously-seen device starts a
// fresh record (and a fresh high-watermark) on its next observation.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.records = make(map[string]*DeviceRecord)
	r.order = nil
	r.view = nil
	r.viewAddrs = make(map[string]struct{})
	subs := r.subscribers
	r.mu.Unlock()

	r.logger.Info("discovery registry reset")

	for _, fn := range subs {
		fn(nil)
	}
}

// SetServiceFilterRequired toggles the service criterion, recomputes the
// view, and reports whether the resulting view is non-empty.
func (r *Registry) SetServiceFilterRequired(required bool) bool {
	r.mu.Lock()
	r.requireService = required
	r.mu.Unlock()

	return r.Recompute()
}

// SetNearbyFilterRequired toggles the nearby criterion, recomputes the
// view, and reports whether the resulting view is non-empty.
func (r *Registry) SetNearbyFilterRequired(required bool) bool {
	r.mu.Lock()
	r.requireNearby = required
	r.mu.Unlock()

	return r.Recompute()
}

// Criteria returns the current filter switches.
func (r *Registry) Criteria() FilterCriteria {
	r.mu.Lock()
	defer r.mu.Unlock()

	return FilterCriteria{
		RequireService: r.requireService,
		RequireNearby:  r.requireNearby,
	}
}

// Recompute rebuilds the filtered view from all records and the current
// criteria, replaces the published view wholesale, notifies subscribers,
// and reports whether the view is non-empty.
//
// Records appear in discovery order. Recompute is idempotent: with
// unchanged records and criteria it produces an identical ordering.
func (r *Registry) Recompute() bool {
	r.mu.Lock()

	view := make([]*DeviceRecord, 0, len(r.order))
	addrs := make(map[string]struct{}, len(r.order))
	for _, addr := range r.order {
		rec := r.records[addr]
		if r.matchesLocked(rec) {
			view = append(view, rec.Clone())
			addrs[addr] = struct{}{}
		}
	}

	r.view = view
	r.viewAddrs = addrs
	subs := r.subscribers
	r.mu.Unlock()

	for _, fn := range subs {
		fn(view)
	}

	return len(view) > 0
}

// matchesLocked reports whether a record satisfies both active criteria.
// A disabled criterion is vacuously true. Caller must hold r.mu.
func (r *Registry) matchesLocked(rec *DeviceRecord) bool {
	if r.requireService && !r.advertisesServiceLocked(rec) {
		return false
	}
	if r.requireNearby && rec.MaxRSSI < r.rssiThreshold {
		return false
	}
	return true
}

// advertisesServiceLocked reports whether the record's latest
// advertisement declared the configured service identifier.
func (r *Registry) advertisesServiceLocked(rec *DeviceRecord) bool {
	for _, uuid := range rec.ServiceUUIDs {
		if strings.EqualFold(uuid, r.serviceUUID) {
			return true
		}
	}
	return false
}

// Subscribe registers a callback invoked with every republished view.
// Subscriptions last for the registry's lifetime.
func (r *Registry) Subscribe(fn ViewSubscriber) {
	if fn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Snapshot returns a copy of the last published filtered view.
func (r *Registry) Snapshot() []*DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*DeviceRecord, len(r.view))
	copy(out, r.view)
	return out
}

// All returns a clone of every known record in discovery order,
// regardless of filter criteria.
func (r *Registry) All() []*DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*DeviceRecord, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, r.records[addr].Clone())
	}
	return out
}

// Get returns a clone of the record for an address.
// Returns ErrDeviceNotFound when the address has never been observed.
func (r *Registry) Get(address string) (*DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[address]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return rec.Clone(), nil
}

// Stats returns registry counters for monitoring.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		KnownDevices: len(r.records),
		ViewSize:     len(r.view),
		Criteria: FilterCriteria{
			RequireService: r.requireService,
			RequireNearby:  r.requireNearby,
		},
		RSSIThreshold: r.rssiThreshold,
	}
}

// Stats summarises registry state for the system endpoint.
type Stats struct {
	KnownDevices  int            `json:"known_devices"`
	ViewSize      int            `json:"view_size"`
	Criteria      FilterCriteria `json:"criteria"`
	RSSIThreshold int            `json:"rssi_threshold"`
}
