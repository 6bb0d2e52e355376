package discovery

import "time"

// ScanEvent is a single raw scan observation delivered by a scanner.
//
// Address is the stable peripheral identity and is a caller precondition:
// the bridge validates it is non-empty before calling Observe.
type ScanEvent struct {
	// Address is the peripheral hardware address (e.g. "aa:bb:cc:dd:ee:ff").
	Address string

	// Name is the advertised local name, empty when not present.
	Name string

	// RSSI is the instantaneous signal strength in dBm.
	RSSI int

	// ServiceUUIDs are the service identifiers declared in this advertisement.
	ServiceUUIDs []string

	// Payload is the raw advertisement payload, if the scanner captured it.
	Payload []byte

	// ScannerID identifies the scanner that made the observation.
	ScannerID string

	// ObservedAt is when the scanner saw the advertisement.
	ObservedAt time.Time
}

// DeviceRecord is the registry's accumulated knowledge of one peripheral.
//
// Identity (Address) is immutable for the record's lifetime; everything
// else is updated in place on each observation. Records are never deleted
// individually, only bulk-cleared by Reset.
type DeviceRecord struct {
	// Address is the stable peripheral identity.
	Address string `json:"address"`

	// Name is the most recently advertised non-empty name.
	Name string `json:"name,omitempty"`

	// RSSI is the signal strength from the latest observation.
	RSSI int `json:"rssi"`

	// MaxRSSI is the highest signal strength ever observed for this
	// peripheral (high-watermark). Used for the nearby criterion so a
	// transient signal dip cannot flap a device out of the view.
	MaxRSSI int `json:"max_rssi"`

	// ServiceUUIDs are the services declared in the latest advertisement.
	ServiceUUIDs []string `json:"service_uuids,omitempty"`

	// Payload is the last raw advertisement payload.
	Payload []byte `json:"payload,omitempty"`

	// ScannerID is the scanner that made the latest observation.
	ScannerID string `json:"scanner_id,omitempty"`

	// FirstSeen is when the registry created this record.
	FirstSeen time.Time `json:"first_seen"`

	// LastSeen is when the latest observation arrived.
	LastSeen time.Time `json:"last_seen"`

	// Observations counts how many scan events updated this record.
	Observations int `json:"observations"`
}

// Clone returns a deep copy of the record.
// Published snapshots are built from clones so subscribers can never
// mutate registry state.
func (d *DeviceRecord) Clone() *DeviceRecord {
	if d == nil {
		return nil
	}

	out := *d

	if d.ServiceUUIDs != nil {
		out.ServiceUUIDs = make([]string, len(d.ServiceUUIDs))
		copy(out.ServiceUUIDs, d.ServiceUUIDs)
	}
	if d.Payload != nil {
		out.Payload = make([]byte, len(d.Payload))
		copy(out.Payload, d.Payload)
	}

	return &out
}

// FilterCriteria reports which filter switches are currently active.
type FilterCriteria struct {
	// RequireService keeps only devices whose latest advertisement
	// declares the configured service identifier.
	RequireService bool `json:"require_service"`

	// RequireNearby keeps only devices whose high-watermark RSSI is at
	// or above the configured threshold.
	RequireNearby bool `json:"require_nearby"`
}
