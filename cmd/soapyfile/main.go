package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "soapyfile",
	Short: "Capture IQ samples from an SDR and serve them over HTTP.",
	Run:   func(cmd *cobra.Command, args []string) { run() },
}

// Device flags.
var (
	deviceAddr  string
	frequencyHz uint64
	sampleRate  uint32
	gainDB      float64
	agc         bool
	iqSwap      bool
	biasTee     bool
	digitalAGC  bool
	offsetTune  bool
	directSamp  int
)

// Output flags.
var (
	output      string
	pause       bool
	pcm16       bool
	cf32        bool
	rf64        bool
	noTimestamp bool
)

// Stream flags.
var (
	packetSize int
	bufferSize int
)

// Power flags.
var (
	bins        int
	rbw         float64
	integration float64
	average     int
)

// Server flags.
var (
	hostname string
	port     int
)

// Console flags.
var (
	meter     bool
	waterfall bool
	refresh   float64
)

var debugLog bool

func init() {
	f := rootCmd.Flags()

	f.StringVar(&deviceAddr, "device", "", "rtl_tcp device address (host:port); defaults to $RTL_TCP_ADDR or 127.0.0.1:1234")
	f.Uint64VarP(&frequencyHz, "frequency", "f", 100000000, "Center frequency in Hz")
	f.Uint32VarP(&sampleRate, "rate", "s", 1024000, "Sample rate in Hz")
	f.Float64VarP(&gainDB, "gain", "g", 0, "Tuner gain in dB (ignored if --agc)")
	f.BoolVar(&agc, "agc", false, "Enable automatic gain control")
	f.BoolVar(&iqSwap, "iq-swap", false, "Swap I/Q channels")
	f.BoolVar(&biasTee, "biastee", false, "Enable bias tee power injection")
	f.BoolVar(&digitalAGC, "digital-agc", false, "Enable digital AGC")
	f.BoolVar(&offsetTune, "offset-tune", false, "Enable offset tuning")
	f.IntVar(&directSamp, "direct-samp", 0, "Direct sampling mode (0=off, 1=I-ADC, 2=Q-ADC)")

	f.StringVarP(&output, "output", "o", "capture", "Output file path (without extension)")
	f.BoolVar(&pause, "pause", false, "Start with no recording session open")
	f.BoolVar(&pcm16, "pcm16", false, "Record as 16-bit PCM instead of 32-bit float")
	f.BoolVar(&cf32, "cf32", false, "Record as headerless raw CF32 instead of WAV")
	f.BoolVar(&rf64, "rf64", false, "Pre-declare the session as RF64 instead of WAV32")
	f.BoolVar(&noTimestamp, "notimestamp", false, "Omit the timestamp suffix and truncate any existing output file")

	f.IntVar(&packetSize, "packet-size", 1024, "Device read transfer size in bytes")
	f.IntVar(&bufferSize, "buffer-size", 256, "Ring buffer capacity in MiB")

	f.IntVar(&bins, "bins", 512, "Power Meter FFT bin count")
	f.Float64Var(&rbw, "rbw", 0, "Power Meter resolution bandwidth in Hz (overrides --bins: bins = rate/rbw)")
	f.Float64Var(&integration, "integration", 1, "Power Meter integration period in seconds")
	f.IntVar(&average, "average", 0, "Power Meter FFT count per emission (overrides --integration)")

	f.StringVar(&hostname, "hostname", "0.0.0.0", "Control Plane bind hostname")
	f.IntVar(&port, "port", 8866, "Control Plane bind port")

	f.BoolVar(&meter, "meter", false, "Print Peak Meter dBFS lines to stdout")
	f.BoolVar(&waterfall, "waterfall", false, "Render a console waterfall (unsupported; accepted for CLI compatibility)")
	f.Float64Var(&refresh, "refresh", 1.0, "Peak Meter refresh interval in seconds")

	f.BoolVar(&debugLog, "debug", false, "Enable human-readable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Enumerate reachable SDR devices",
		Run:   func(cmd *cobra.Command, args []string) { list() },
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
