package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dokzlo13/dmxd/internal/ble"
	"github.com/dokzlo13/dmxd/internal/config"
	"github.com/dokzlo13/dmxd/internal/device"
)

type stubLink struct{}

func (stubLink) Resolve(ctx context.Context, address string) (ble.Handle, error) {
	return stubHandle{}, nil
}

type stubHandle struct{}

func (stubHandle) Connect(ctx context.Context) (ble.Conn, error) { return stubConn{}, nil }

type stubConn struct{}

func (stubConn) WriteCharacteristic(uuid string, data []byte) error { return nil }
func (stubConn) Disconnect() error                                  { return nil }

func newTestServer(t *testing.T) (*Server, *device.Manager) {
	t.Helper()

	cfg := &config.Config{
		Devices: []config.DeviceConfig{
			{Name: "bedroom", Address: "AA:BB:CC:DD:EE:FF"},
			{Name: "desk", Address: "11:22:33:44:55:66"},
		},
		BLE: config.BLEConfig{ConnectAttempts: 1, RedundantSends: 1},
	}
	manager, err := device.NewManager(cfg, stubLink{}, nil, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(manager.Close)

	return NewServer("127.0.0.1:0", manager, nil, nil), manager
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["devices"] != float64(2) {
		t.Errorf("body = %v", body)
	}
}

func TestListDevices(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var views []deviceView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 || views[0].Name != "bedroom" || views[1].Name != "desk" {
		t.Errorf("views = %+v", views)
	}
}

func TestGetDeviceIncludesEffects(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/devices/bedroom", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		deviceView
		Effects []string `json:"effects"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Name != "bedroom" || len(body.Effects) == 0 {
		t.Errorf("body = %+v", body)
	}
	for _, effect := range body.Effects {
		if effect == "Solid Color" {
			t.Error("effect list must not include the solid-color sentinel")
		}
	}
}

func TestListPatterns(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/patterns", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var names []string
	if err := json.Unmarshal(rec.Body.Bytes(), &names); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(names) == 0 {
		t.Error("empty pattern catalog")
	}
}

func TestLightOnWithBody(t *testing.T) {
	s, manager := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/devices/bedroom/light/on",
		`{"color": [255, 40, 0], "brightness": 80}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	dev, _ := manager.Device("bedroom")
	st := dev.Light.State()
	if !st.Power || st.Color != [3]uint8{255, 40, 0} || st.Brightness != 80 {
		t.Errorf("state = %+v", st)
	}

	var view deviceView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Light.Color != [3]int{255, 40, 0} {
		t.Errorf("view = %+v", view)
	}
}

func TestLightOnEmptyBodyIsBarePowerOn(t *testing.T) {
	s, manager := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/devices/bedroom/light/on", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	dev, _ := manager.Device("bedroom")
	if !dev.Light.State().Power {
		t.Error("light not on")
	}
}

func TestLightOnEffect(t *testing.T) {
	s, manager := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/devices/bedroom/light/on",
		`{"effect": "Pattern 12"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	dev, _ := manager.Device("bedroom")
	if st := dev.Light.State(); st.ActivePattern != 12 {
		t.Errorf("state = %+v", st)
	}
}

func TestLightOnClampsOutOfRangeValues(t *testing.T) {
	s, manager := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/devices/bedroom/light/on",
		`{"color": [999, -5, 0], "brightness": 300}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	dev, _ := manager.Device("bedroom")
	st := dev.Light.State()
	if st.Color != [3]uint8{255, 0, 0} || st.Brightness != 255 {
		t.Errorf("state = %+v", st)
	}
}

func TestLightOff(t *testing.T) {
	s, manager := newTestServer(t)

	doRequest(t, s, http.MethodPost, "/devices/bedroom/light/on", "")
	rec := doRequest(t, s, http.MethodPost, "/devices/bedroom/light/off", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	dev, _ := manager.Device("bedroom")
	if dev.Light.State().Power {
		t.Error("light still on")
	}
}

func TestMicRoundTrip(t *testing.T) {
	s, manager := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/devices/bedroom/mic/on", `{"sensitivity": 12}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("mic on status = %d, body = %s", rec.Code, rec.Body.String())
	}

	dev, _ := manager.Device("bedroom")
	if st := dev.Mic.State(); !st.Power || st.Sensitivity != 12 {
		t.Errorf("state = %+v", st)
	}

	rec = doRequest(t, s, http.MethodPost, "/devices/bedroom/mic/off", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("mic off status = %d", rec.Code)
	}
	if dev.Mic.State().Power {
		t.Error("mic still on")
	}
}

func TestUnknownDevice(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{
		"/devices/nope",
		"/devices/nope/light/on",
		"/devices/nope/mic/off",
	} {
		method := http.MethodPost
		if path == "/devices/nope" {
			method = http.MethodGet
		}
		rec := doRequest(t, s, method, path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: status = %d", method, path, rec.Code)
		}
	}
}

func TestInvalidBody(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/devices/bedroom/light/on", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestDeleteDevice(t *testing.T) {
	s, manager := newTestServer(t)

	rec := doRequest(t, s, http.MethodDelete, "/devices/desk", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := manager.Device("desk"); ok {
		t.Error("device still registered")
	}

	rec = doRequest(t, s, http.MethodDelete, "/devices/desk", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}
}

func TestScenesWithoutEngine(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/scenes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodPost, "/scenes/movie", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("run status = %d", rec.Code)
	}
}
