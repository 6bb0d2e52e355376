package discovery

import (
	"errors"
	"testing"
	"time"
)

const testServiceUUID = "00001523-1212-efde-1523-785feabcd123"

func newTestRegistry(opts Options) *Registry {
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = testServiceUUID
	}
	if opts.RSSIThreshold == 0 {
		opts.RSSIThreshold = -50
	}
	return New(opts)
}

func scanEvent(address string, rssi int, uuids ...string) ScanEvent {
	return ScanEvent{
		Address:      address,
		RSSI:         rssi,
		ServiceUUIDs: uuids,
		ScannerID:    "scanner-1",
		ObservedAt:   time.Now().UTC(),
	}
}

func addresses(view []*DeviceRecord) []string {
	out := make([]string, len(view))
	for i, rec := range view {
		out[i] = rec.Address
	}
	return out
}

func TestObserve_Dedup(t *testing.T) {
	r := newTestRegistry(Options{})

	r.Observe(scanEvent("aa:bb:cc:dd:ee:01", -60))
	r.Observe(ScanEvent{Address: "aa:bb:cc:dd:ee:01", Name: "Blinky", RSSI: -45})
	r.Observe(scanEvent("aa:bb:cc:dd:ee:01", -70))

	all := r.All()
	if len(all) != 1 {
		t.Fatalf("All() returned %d records, want 1", len(all))
	}

	rec := all[0]
	if rec.Name != "Blinky" {
		t.Errorf("Name = %q, want %q (non-empty name kept)", rec.Name, "Blinky")
	}
	if rec.RSSI != -70 {
		t.Errorf("RSSI = %d, want -70 (latest)", rec.RSSI)
	}
	if rec.MaxRSSI != -45 {
		t.Errorf("MaxRSSI = %d, want -45 (high-watermark)", rec.MaxRSSI)
	}
	if rec.Observations != 3 {
		t.Errorf("Observations = %d, want 3", rec.Observations)
	}
}

func TestObserve_InterestingWhenMatching(t *testing.T) {
	r := newTestRegistry(Options{RequireService: true, RequireNearby: true})

	if got := r.Observe(scanEvent("aa:bb:cc:dd:ee:01", -40)); got {
		t.Error("Observe() = true for device without the service marker")
	}
	if got := r.Observe(scanEvent("aa:bb:cc:dd:ee:02", -40, testServiceUUID)); !got {
		t.Error("Observe() = false for device matching both criteria")
	}
	if got := r.Observe(scanEvent("aa:bb:cc:dd:ee:03", -80, testServiceUUID)); got {
		t.Error("Observe() = true for device below the threshold")
	}
}

func TestObserve_InterestingWhenInView(t *testing.T) {
	r := newTestRegistry(Options{RequireNearby: true})

	r.Observe(scanEvent("aa:bb:cc:dd:ee:01", -40))
	r.Recompute()

	// Already published. A weak follow-up is still interesting because
	// the high-watermark keeps it in the view.
	if got := r.Observe(scanEvent("aa:bb:cc:dd:ee:01", -90)); !got {
		t.Error("Observe() = false for device already in the published view")
	}
}

func TestRecompute_InsertionOrder(t *testing.T) {
	r := newTestRegistry(Options{})

	r.Observe(scanEvent("cc:00:00:00:00:03", -50))
	r.Observe(scanEvent("aa:00:00:00:00:01", -50))
	r.Observe(scanEvent("bb:00:00:00:00:02", -50))
	// Re-observation must not reorder.
	r.Observe(scanEvent("cc:00:00:00:00:03", -40))

	r.Recompute()

	got := addresses(r.Snapshot())
	want := []string{"cc:00:00:00:00:03", "aa:00:00:00:00:01", "bb:00:00:00:00:02"}
	if len(got) != len(want) {
		t.Fatalf("view = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("view = %v, want %v", got, want)
		}
	}
}

func TestRecompute_Idempotent(t *testing.T) {
	r := newTestRegistry(Options{RequireNearby: true})

	r.Observe(scanEvent("aa:00:00:00:00:01", -40))
	r.Observe(scanEvent("bb:00:00:00:00:02", -45))
	r.Observe(scanEvent("cc:00:00:00:00:03", -80))

	r.Recompute()
	first := addresses(r.Snapshot())
	r.Recompute()
	second := addresses(r.Snapshot())

	if len(first) != len(second) {
		t.Fatalf("repeated recompute changed the view: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("repeated recompute changed the view: %v vs %v", first, second)
		}
	}
}

// Disabling a criterion can only grow the view, never shrink it.
func TestRecompute_Monotonicity(t *testing.T) {
	r := newTestRegistry(Options{RequireService: true, RequireNearby: true})

	r.Observe(scanEvent("aa:00:00:00:00:01", -40, testServiceUUID))
	r.Observe(scanEvent("bb:00:00:00:00:02", -80, testServiceUUID))
	r.Observe(scanEvent("cc:00:00:00:00:03", -40))
	r.Recompute()

	strict := r.Snapshot()
	inStrict := make(map[string]bool, len(strict))
	for _, rec := range strict {
		inStrict[rec.Address] = true
	}

	r.SetNearbyFilterRequired(false)
	relaxed := r.Snapshot()
	if len(relaxed) < len(strict) {
		t.Fatalf("relaxed view has %d devices, strict had %d", len(relaxed), len(strict))
	}
	inRelaxed := make(map[string]bool, len(relaxed))
	for _, rec := range relaxed {
		inRelaxed[rec.Address] = true
	}
	for addr := range inStrict {
		if !inRelaxed[addr] {
			t.Errorf("device %s dropped out after relaxing a criterion", addr)
		}
	}

	r.SetServiceFilterRequired(false)
	if got := len(r.Snapshot()); got != 3 {
		t.Errorf("view with all criteria disabled has %d devices, want 3", got)
	}
}

func TestHighWatermark_Stability(t *testing.T) {
	r := newTestRegistry(Options{RequireNearby: true})

	r.Observe(scanEvent("aa:00:00:00:00:01", -40))
	if !r.Recompute() {
		t.Fatal("Recompute() = false, want non-empty view")
	}

	// Signal dips well below the threshold; the high-watermark holds.
	r.Observe(scanEvent("aa:00:00:00:00:01", -95))
	if !r.Recompute() {
		t.Fatal("Recompute() = false after dip, high-watermark should keep device in view")
	}

	rec, err := r.Get("aa:00:00:00:00:01")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.RSSI != -95 {
		t.Errorf("RSSI = %d, want -95", rec.RSSI)
	}
	if rec.MaxRSSI != -40 {
		t.Errorf("MaxRSSI = %d, want -40", rec.MaxRSSI)
	}
}

func TestSetFilters_ReturnNonEmpty(t *testing.T) {
	r := newTestRegistry(Options{})

	r.Observe(scanEvent("aa:00:00:00:00:01", -80))

	if got := r.SetNearbyFilterRequired(true); got {
		t.Error("SetNearbyFilterRequired(true) = true, want false (view emptied)")
	}
	if got := r.SetNearbyFilterRequired(false); !got {
		t.Error("SetNearbyFilterRequired(false) = false, want true (view repopulated)")
	}
}

func TestReset(t *testing.T) {
	r := newTestRegistry(Options{RequireNearby: true})

	r.Observe(scanEvent("aa:00:00:00:00:01", -30))
	r.Recompute()

	var published []*DeviceRecord
	publishCount := 0
	r.Subscribe(func(view []*DeviceRecord) {
		published = view
		publishCount++
	})

	r.Reset()

	if publishCount != 1 {
		t.Fatalf("subscriber called %d times on reset, want 1", publishCount)
	}
	if len(published) != 0 {
		t.Errorf("reset published %d devices, want empty view", len(published))
	}
	if len(r.All()) != 0 {
		t.Errorf("All() non-empty after reset")
	}
	if _, err := r.Get("aa:00:00:00:00:01"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get() after reset error = %v, want ErrDeviceNotFound", err)
	}

	// The prior -30 high-watermark is forgotten: a weak re-observation
	// starts a fresh record that fails the nearby criterion.
	r.Observe(scanEvent("aa:00:00:00:00:01", -80))
	if r.Recompute() {
		t.Error("Recompute() = true, want false (old high-watermark must not survive reset)")
	}

	rec, err := r.Get("aa:00:00:00:00:01")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.MaxRSSI != -80 {
		t.Errorf("MaxRSSI = %d, want -80 (fresh record)", rec.MaxRSSI)
	}
	if rec.Observations != 1 {
		t.Errorf("Observations = %d, want 1 (fresh record)", rec.Observations)
	}
}

func TestSubscriber_ReceivesSnapshots(t *testing.T) {
	r := newTestRegistry(Options{})

	var views [][]*DeviceRecord
	r.Subscribe(func(view []*DeviceRecord) {
		views = append(views, view)
	})

	r.Observe(scanEvent("aa:00:00:00:00:01", -40))
	r.Recompute()
	r.Observe(scanEvent("bb:00:00:00:00:02", -40))
	r.Recompute()

	if len(views) != 2 {
		t.Fatalf("subscriber called %d times, want 2", len(views))
	}
	// Earlier snapshots are never mutated by later recomputes.
	if len(views[0]) != 1 || len(views[1]) != 2 {
		t.Fatalf("snapshot sizes = %d, %d, want 1, 2", len(views[0]), len(views[1]))
	}

	// Mutating a published record must not leak into registry state.
	views[1][0].Name = "tampered"
	rec, err := r.Get("aa:00:00:00:00:01")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Name == "tampered" {
		t.Error("mutating a published snapshot changed registry state")
	}
}

func TestGet_Unknown(t *testing.T) {
	r := newTestRegistry(Options{})
	if _, err := r.Get("ff:ff:ff:ff:ff:ff"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestServiceCriterion_CaseInsensitive(t *testing.T) {
	r := newTestRegistry(Options{RequireService: true})

	r.Observe(scanEvent("aa:00:00:00:00:01", -40, "00001523-1212-EFDE-1523-785FEABCD123"))
	if !r.Recompute() {
		t.Error("uppercase service identifier not matched")
	}
}

func TestStats(t *testing.T) {
	r := newTestRegistry(Options{RequireNearby: true, RSSIThreshold: -50})

	r.Observe(scanEvent("aa:00:00:00:00:01", -40))
	r.Observe(scanEvent("bb:00:00:00:00:02", -80))
	r.Recompute()

	stats := r.Stats()
	if stats.KnownDevices != 2 {
		t.Errorf("KnownDevices = %d, want 2", stats.KnownDevices)
	}
	if stats.ViewSize != 1 {
		t.Errorf("ViewSize = %d, want 1", stats.ViewSize)
	}
	if !stats.Criteria.RequireNearby || stats.Criteria.RequireService {
		t.Errorf("Criteria = %+v", stats.Criteria)
	}
	if stats.RSSIThreshold != -50 {
		t.Errorf("RSSIThreshold = %d, want -50", stats.RSSIThreshold)
	}
}

// A device observed at the edge of range drops out at -60, is admitted at
// -40, and then stays in the view when the signal falls back to -70.
func TestNearbyLifecycle(t *testing.T) {
	r := newTestRegistry(Options{RequireNearby: true, RSSIThreshold: -50})

	r.Observe(scanEvent("de:ad:be:ef:00:01", -60))
	if r.Recompute() {
		t.Fatal("device at -60 admitted with threshold -50")
	}

	r.Observe(scanEvent("de:ad:be:ef:00:01", -40))
	if !r.Recompute() {
		t.Fatal("device at -40 not admitted with threshold -50")
	}

	r.Observe(scanEvent("de:ad:be:ef:00:01", -70))
	if !r.Recompute() {
		t.Fatal("device dropped after signal dip, high-watermark should hold")
	}

	view := r.Snapshot()
	if len(view) != 1 {
		t.Fatalf("view has %d devices, want 1", len(view))
	}
	if view[0].RSSI != -70 || view[0].MaxRSSI != -40 {
		t.Errorf("RSSI/MaxRSSI = %d/%d, want -70/-40", view[0].RSSI, view[0].MaxRSSI)
	}
}
