package control

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chzchzchz/soapyfile/internal/capture"
	"github.com/chzchzchz/soapyfile/internal/radio"
	"github.com/chzchzchz/soapyfile/internal/radio/fake"
	"github.com/chzchzchz/soapyfile/internal/ring"
	"github.com/chzchzchz/soapyfile/internal/sink"
)

// newTestServer builds a Server backed by a running Capture Engine driven
// by a fake SDR, plus Peak/Power Meters, exactly the way cmd/soapyfile
// wires production but without a real listener.
func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	sdr := fake.New()
	rb := ring.New(1<<18, 8192)
	fw := sink.NewFileWriter(rb, nil)
	e := capture.New(sdr, rb, fw, nil, radio.FormatCF32, 0)
	peak := sink.NewPeakMeter(rb, time.Hour, nil)
	power := sink.NewPowerMeter(rb, sink.PowerMeterConfig{Bins: 32, SampleRate: 250000}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)

	rec := capture.RecordingSpec{
		Output:      filepath.Join(t.TempDir(), "capture"),
		NoTimestamp: true,
		Kind:        "wav32",
		Encoding:    "f32",
	}
	s := New(e, rb, peak, power, Config{Addr: "127.0.0.1:0", RecTemplate: rec}, nil)

	cleanup := func() {
		cancel()
		e.Wait()
		peak.Stop()
		power.Stop()
		fw.Stop()
	}
	return s, cleanup
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Result()
}

func bodyString(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestFrequencyPutThenGet(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	resp := doRequest(t, h, http.MethodPut, "/frequency", "433920000")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /frequency status = %d, body %q", resp.StatusCode, bodyString(t, resp))
	}

	resp = doRequest(t, h, http.MethodGet, "/frequency", "")
	got := strings.TrimSpace(bodyString(t, resp))
	if got != "433920000" {
		t.Fatalf("GET /frequency = %q, want 433920000", got)
	}
}

func TestFrequencyPutRejectsGarbage(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	resp := doRequest(t, s.Handler(), http.MethodPut, "/frequency", "not-a-number")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRateRejectedWhileRecordingOpen(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	resp := doRequest(t, h, http.MethodPut, "/pause", "no")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /pause no status = %d, body %q", resp.StatusCode, bodyString(t, resp))
	}

	resp = doRequest(t, h, http.MethodPut, "/rate", "2048000")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("PUT /rate while recording status = %d, want 400", resp.StatusCode)
	}

	resp = doRequest(t, h, http.MethodPut, "/pause", "yes")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /pause yes status = %d, body %q", resp.StatusCode, bodyString(t, resp))
	}
	resp = doRequest(t, h, http.MethodGet, "/pause", "")
	if got := strings.TrimSpace(bodyString(t, resp)); got != "yes" {
		t.Fatalf("GET /pause = %q, want yes", got)
	}
}

func TestAGCPutThenGet(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	resp := doRequest(t, h, http.MethodPut, "/agc", "true")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp = doRequest(t, h, http.MethodGet, "/agc", "")
	if got := strings.TrimSpace(bodyString(t, resp)); got != "yes" {
		t.Fatalf("GET /agc = %q, want yes", got)
	}
}

func TestSettingBareRouteListsAllSettings(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	if resp := doRequest(t, h, http.MethodPut, "/setting/iq_swap", "true"); resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /setting/iq_swap: status = %d, body %q", resp.StatusCode, bodyString(t, resp))
	}

	resp := doRequest(t, h, http.MethodGet, "/setting", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /setting: status = %d, body %q", resp.StatusCode, bodyString(t, resp))
	}
	if got := bodyString(t, resp); !strings.Contains(got, "iq_swap: true") {
		t.Fatalf("GET /setting body = %q, want it to list iq_swap", got)
	}
}

func TestSettingUnknownNameNotFound(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	resp := doRequest(t, s.Handler(), http.MethodGet, "/setting/bogus", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSettingSessionIDReflectsRecordingState(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	resp := doRequest(t, h, http.MethodGet, "/setting/session_id", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("session_id before recording: status = %d, want 404", resp.StatusCode)
	}

	if resp := doRequest(t, h, http.MethodPut, "/pause", "no"); resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /pause no: status = %d", resp.StatusCode)
	}

	resp = doRequest(t, h, http.MethodGet, "/setting/session_id", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session_id while recording: status = %d", resp.StatusCode)
	}
	if got := bodyString(t, resp); !strings.HasPrefix(got, "session_id: ") {
		t.Fatalf("session_id body = %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	resp := doRequest(t, s.Handler(), http.MethodDelete, "/frequency", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
