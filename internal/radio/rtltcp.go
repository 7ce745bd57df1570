package radio

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

var dongleMagic = [4]byte{'R', 'T', 'L', '0'}

// rtl_tcp command opcodes, as defined by rtl_tcp.c.
const (
	cmdCenterFreq = iota + 1
	cmdSampleRate
	cmdTunerGainMode
	cmdTunerGain
	cmdFreqCorrection
	cmdTunerIFGain
	cmdTestMode
	cmdAGCMode
	cmdDirectSampling
	cmdOffsetTuning
	cmdRTLXtalFreq
	cmdTunerXtalFreq
	cmdGainByIndex
	cmdBiasTee
)

var minFreqHz = uint64(25000000)
var maxFreqHz = uint64(1750000000)
var minRate = uint32(225000)
var maxRate = uint32(3200000)

// maxGainDB is the top of the R820T/R820T2 tuner's gain table, the tuner
// rtl_tcp almost always fronts.
var maxGainDB = 49.6

func isValidRate(rate uint32) bool {
	return !((rate <= 225000) || (rate > 3200000) ||
		((rate > 300000) && (rate <= 900000)))
}

type dongleInfo struct {
	Magic     [4]byte
	Tuner     uint32
	GainCount uint32
}

func (d dongleInfo) valid() bool { return d.Magic == dongleMagic }

type command struct {
	Cmd   uint8
	Param uint32
}

// RTLTCP is the concrete Device Façade backend: it speaks the rtl_tcp
// wire protocol directly over a TCP socket (magic header on connect,
// 5-byte big-endian command frames multiplexed onto the same connection
// that carries the sample stream).
type RTLTCP struct {
	conn net.Conn
	info dongleInfo
	addr string

	mu         sync.Mutex
	centerHz   uint64
	sampleHz   uint32
	gainDB     float64
	agc        bool
	settings   map[string]string
	streaming  bool
	format     SampleFormat
	overflow   atomic.Uint64
	lastOFFlag atomic.Bool
}

// Dial connects to an rtl_tcp server at addr (host:port) and reads back
// its dongle info header.
func Dial(addr string) (*RTLTCP, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("radio: connect to %s: %w", addr, err)
	}
	r := &RTLTCP{conn: conn, addr: addr, settings: make(map[string]string)}
	if err := binary.Read(conn, binary.BigEndian, &r.info); err != nil {
		conn.Close()
		return nil, fmt.Errorf("radio: reading dongle header: %w", err)
	}
	if !r.info.valid() {
		conn.Close()
		return nil, fmt.Errorf("radio: bad magic %q", r.info.Magic)
	}
	return r, nil
}

func (r *RTLTCP) send(cmd uint8, v uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return binary.Write(r.conn, binary.BigEndian, command{cmd, v})
}

func (r *RTLTCP) SetFrequency(hz uint64) error {
	if hz < minFreqHz || hz > maxFreqHz {
		return ErrFrequencyOutOfRange
	}
	if err := r.send(cmdCenterFreq, uint32(hz)); err != nil {
		return err
	}
	r.mu.Lock()
	r.centerHz = hz
	r.mu.Unlock()
	return nil
}

func (r *RTLTCP) Frequency() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.centerHz
}

func (r *RTLTCP) SetSampleRate(hz uint32) error {
	if !isValidRate(hz) {
		return ErrRateOutOfRange
	}
	if err := r.send(cmdSampleRate, hz); err != nil {
		return err
	}
	r.mu.Lock()
	r.sampleHz = hz
	r.mu.Unlock()
	return nil
}

func (r *RTLTCP) SampleRate() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sampleHz
}

// SetGain sets gain in dB; rtl_tcp wants tenths of a dB and also requires
// manual gain mode to be selected first.
func (r *RTLTCP) SetGain(db float64) error {
	if err := r.send(cmdTunerGainMode, 1); err != nil {
		return err
	}
	if err := r.send(cmdTunerGain, uint32(db*10)); err != nil {
		return err
	}
	r.mu.Lock()
	r.gainDB = db
	r.mu.Unlock()
	return nil
}

func (r *RTLTCP) Gain() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gainDB
}

func (r *RTLTCP) SetAGC(on bool) error {
	v := uint32(0)
	if on {
		v = 1
	}
	if err := r.send(cmdAGCMode, v); err != nil {
		return err
	}
	// Tuner gain mode is the inverse of AGC: manual gain when AGC is off.
	gm := uint32(1)
	if on {
		gm = 0
	}
	if err := r.send(cmdTunerGainMode, gm); err != nil {
		return err
	}
	r.mu.Lock()
	r.agc = on
	r.mu.Unlock()
	return nil
}

func (r *RTLTCP) AGC() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agc
}

// rtl_tcp has no generic named-setting channel; map the ones with a known
// opcode, hold iq_swap and digital_agc locally so GET can still echo them,
// and reject any other name with ErrUnknownSetting.
func (r *RTLTCP) SetSetting(name, value string) error {
	truthy := value == "true" || value == "1" || value == "yes"
	switch name {
	case "biastee":
		v := uint32(0)
		if truthy {
			v = 1
		}
		if err := r.send(cmdBiasTee, v); err != nil {
			return err
		}
	case "digital_agc":
		// No discrete rtl_tcp opcode; digital AGC rides on the tuner AGC
		// mode toggle for this transport.
	case "offset_tune":
		v := uint32(0)
		if truthy {
			v = 1
		}
		if err := r.send(cmdOffsetTuning, v); err != nil {
			return err
		}
	case "direct_samp":
		var mode uint32
		fmt.Sscanf(value, "%d", &mode)
		if err := r.send(cmdDirectSampling, mode); err != nil {
			return err
		}
	case "iq_swap":
		// Pure software concern; no device opcode, held locally.
	default:
		return ErrUnknownSetting
	}
	r.mu.Lock()
	r.settings[name] = value
	r.mu.Unlock()
	return nil
}

func (r *RTLTCP) Setting(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.settings[name]
	return v, ok
}

func (r *RTLTCP) Settings() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.settings))
	for k, v := range r.settings {
		out[k] = v
	}
	return out
}

func (r *RTLTCP) StartStream(format SampleFormat) error {
	r.mu.Lock()
	r.streaming = true
	r.format = format
	r.mu.Unlock()
	return nil
}

func (r *RTLTCP) StopStream() error {
	r.mu.Lock()
	r.streaming = false
	r.mu.Unlock()
	return nil
}

// Read pulls raw 8-bit unsigned interleaved I/Q off the wire and converts
// to the façade's uniform complex64 representation, scaling into
// [-1, 1]. rtl_tcp has no explicit overflow flag on the wire; overflow is
// always false for this transport and OverflowTotal always reports 0.
func (r *RTLTCP) Read(buf []complex64) (int, bool, error) {
	r.mu.Lock()
	streaming := r.streaming
	r.mu.Unlock()
	if !streaming {
		return 0, false, ErrNotStreaming
	}

	raw := make([]byte, 2*len(buf))
	if _, err := readFull(r.conn, raw); err != nil {
		return 0, false, fmt.Errorf("radio: stream read: %w", err)
	}
	for i := range buf {
		buf[i] = complex(
			(float32(raw[2*i])-127.5)/127.5,
			(float32(raw[2*i+1])-127.5)/127.5,
		)
	}
	return len(buf), false, nil
}

func readFull(c net.Conn, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := c.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *RTLTCP) OverflowTotal() uint64 { return r.overflow.Load() }

func (r *RTLTCP) Info() HWInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return HWInfo{
		ID:            r.addr,
		MinHz:         minFreqHz,
		MaxHz:         maxFreqHz,
		MinSampleRate: minRate,
		MaxSampleRate: maxRate,
		MaxGainDB:     maxGainDB,
	}
}

func (r *RTLTCP) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	settings := make(map[string]string, len(r.settings))
	for k, v := range r.settings {
		settings[k] = v
	}
	return Snapshot{
		CenterHz:   r.centerHz,
		SampleRate: r.sampleHz,
		GainDB:     r.gainDB,
		AGC:        r.agc,
		Settings:   settings,
	}
}

func (r *RTLTCP) Close() error { return r.conn.Close() }

// List enumerates devices reachable at addr. rtl_tcp serves exactly one
// tuner per endpoint, so this either returns a single-element slice or an
// error if nothing answers.
func List(addr string) ([]HWInfo, error) {
	r, err := Dial(addr)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return []HWInfo{r.Info()}, nil
}
