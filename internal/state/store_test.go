package state

import (
	"testing"

	"github.com/dokzlo13/dmxd/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database.DB)
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)

	st, err := store.Get("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st != nil {
		t.Fatalf("expected nil for missing address, got %+v", st)
	}
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t)

	in := &DeviceState{
		Address:        "AA:BB:CC:DD:EE:FF",
		LightPower:     true,
		ColorR:         200,
		ColorG:         100,
		ColorB:         50,
		Brightness:     128,
		ActivePattern:  5,
		LastPattern:    5,
		Effect:         "Green Gradient",
		MicPower:       false,
		MicSensitivity: 9,
	}
	if err := store.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := store.Get(in.Address)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out == nil {
		t.Fatal("snapshot missing after save")
	}
	if !out.LightPower || out.Brightness != 128 || out.LastPattern != 5 {
		t.Errorf("snapshot mismatch: %+v", out)
	}
	if out.ColorR != 200 || out.ColorG != 100 || out.ColorB != 50 {
		t.Errorf("color mismatch: %+v", out)
	}
	if out.Effect != "Green Gradient" || out.MicSensitivity != 9 {
		t.Errorf("effect/mic mismatch: %+v", out)
	}
}

func TestSaveOverwrites(t *testing.T) {
	store := newTestStore(t)

	st := &DeviceState{Address: "11:22:33:44:55:66", LastPattern: 1, Brightness: 255}
	if err := store.Save(st); err != nil {
		t.Fatalf("save: %v", err)
	}
	st.LastPattern = 42
	st.Brightness = 10
	if err := store.Save(st); err != nil {
		t.Fatalf("second save: %v", err)
	}

	out, err := store.Get(st.Address)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.LastPattern != 42 || out.Brightness != 10 {
		t.Errorf("upsert did not overwrite: %+v", out)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)

	// Deleting a missing row is a no-op.
	if err := store.Delete("AA:BB:CC:DD:EE:FF"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}

	st := &DeviceState{Address: "AA:BB:CC:DD:EE:FF"}
	if err := store.Save(st); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(st.Address); err != nil {
		t.Fatalf("delete: %v", err)
	}

	out, err := store.Get(st.Address)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != nil {
		t.Errorf("snapshot survived delete: %+v", out)
	}
}
