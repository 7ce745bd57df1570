package control

import (
	"bufio"
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chzchzchz/soapyfile/internal/radio"
	"github.com/chzchzchz/soapyfile/internal/radio/fake"
	"github.com/chzchzchz/soapyfile/internal/ring"
	"github.com/chzchzchz/soapyfile/internal/sink"
)

func TestPeakStreamHandlerEmitsLines(t *testing.T) {
	rb := ring.New(1<<16, 4096)
	peak := sink.NewPeakMeter(rb, 10*time.Millisecond, nil)
	defer peak.Stop()

	sdr := fake.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sdr.StartStream(radio.FormatCF32); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sdr.StopStream()
	go func() {
		buf := make([]complex64, 256)
		for ctx.Err() == nil {
			n, _, err := sdr.Read(buf)
			if err != nil {
				return
			}
			rb.Write(encodeForTest(buf[:n]))
		}
	}()

	h := newPeakStreamHandler(&Server{peak: peak})

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer reqCancel()
	req := httptest.NewRequest(http.MethodGet, "/peak", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	scanner := bufio.NewScanner(rec.Body)
	var lines int
	for scanner.Scan() {
		lines++
	}
	if lines == 0 {
		t.Fatal("expected at least one peak line, got none")
	}
}

func encodeForTest(samples []complex64) []byte {
	buf := make([]byte, 8*len(samples))
	put := func(off int, f float32) {
		bits := math.Float32bits(f)
		buf[off] = byte(bits)
		buf[off+1] = byte(bits >> 8)
		buf[off+2] = byte(bits >> 16)
		buf[off+3] = byte(bits >> 24)
	}
	for i, s := range samples {
		put(8*i, real(s))
		put(8*i+4, imag(s))
	}
	return buf
}
