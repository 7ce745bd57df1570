package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chzchzchz/soapyfile/internal/capture"
	"github.com/chzchzchz/soapyfile/internal/control"
	"github.com/chzchzchz/soapyfile/internal/log"
	"github.com/chzchzchz/soapyfile/internal/radio"
	"github.com/chzchzchz/soapyfile/internal/ring"
	"github.com/chzchzchz/soapyfile/internal/sink"
)

const ringMargin = 1 << 20 // headroom for one oversized frame's worth of slip

// run wires the Device Façade, Capture Engine, sinks, and Control Plane
// together per the CLI flags and blocks until the engine stops.
func run() {
	logger := log.Must(debugLog)
	defer logger.Sync()

	addr := resolveDeviceAddr()
	sdr, err := radio.Dial(addr)
	if err != nil {
		logger.Fatal("dial device", zap.String("addr", addr), zap.Error(err))
	}

	if err := applyStartupSettings(sdr); err != nil {
		sdr.Close()
		logger.Fatal("apply startup settings", zap.Error(err))
	}

	rb := ring.New(bufferSize<<20, ringMargin)

	fw := sink.NewFileWriter(rb, logger)
	defer fw.Stop()

	// --packet-size is in bytes; the engine's frame size is in CF32 samples
	// of 8 bytes each.
	e := capture.New(sdr, rb, fw, logger, radio.FormatCF32, packetSize/8)

	peakMeter := sink.NewPeakMeter(rb, time.Duration(refresh*float64(time.Second)), logger)
	defer peakMeter.Stop()

	powerMeter := sink.NewPowerMeter(rb, powerMeterConfig(), logger)
	defer powerMeter.Stop()

	var recTemplate capture.RecordingSpec
	recTemplate.Output = output
	recTemplate.NoTimestamp = noTimestamp
	recTemplate.Kind = recordingKind()
	recTemplate.Encoding = recordingEncoding()

	srv := control.New(e, rb, peakMeter, powerMeter, control.Config{
		Addr:        fmt.Sprintf("%s:%d", hostname, port),
		RecTemplate: recTemplate,
	}, logger)

	if meter {
		go printPeakLines(peakMeter)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info("signal received, shutting down")
		srv.Shutdown()
		e.Quit()
		cancel()
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("control plane stopped", zap.Error(err))
		}
	}()

	if !pause {
		if err := e.OpenRecording(recTemplate); err != nil {
			logger.Warn("opening initial recording session failed", zap.Error(err))
		}
	}

	if err := e.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("capture engine stopped", zap.Error(err))
		srv.Shutdown()
		os.Exit(1)
	}
}

// applyStartupSettings pushes the device-level flags onto sdr before the
// Capture Engine takes ownership of it; these all precede StartStream.
func applyStartupSettings(sdr radio.SDR) error {
	if err := sdr.SetFrequency(frequencyHz); err != nil {
		return fmt.Errorf("set frequency: %w", err)
	}
	if err := sdr.SetSampleRate(sampleRate); err != nil {
		return fmt.Errorf("set rate: %w", err)
	}
	if agc {
		if err := sdr.SetGain(sdr.Info().MaxGainDB); err != nil {
			return fmt.Errorf("set gain: %w", err)
		}
		if err := sdr.SetAGC(true); err != nil {
			return fmt.Errorf("set agc: %w", err)
		}
	} else if err := sdr.SetGain(gainDB); err != nil {
		return fmt.Errorf("set gain: %w", err)
	}
	if err := sdr.SetSetting("iq_swap", formatBool(iqSwap)); err != nil {
		return fmt.Errorf("set iq_swap: %w", err)
	}
	if err := sdr.SetSetting("biastee", formatBool(biasTee)); err != nil {
		return fmt.Errorf("set biastee: %w", err)
	}
	if err := sdr.SetSetting("digital_agc", formatBool(digitalAGC)); err != nil {
		return fmt.Errorf("set digital_agc: %w", err)
	}
	if err := sdr.SetSetting("offset_tune", formatBool(offsetTune)); err != nil {
		return fmt.Errorf("set offset_tune: %w", err)
	}
	if err := sdr.SetSetting("direct_samp", fmt.Sprintf("%d", directSamp)); err != nil {
		return fmt.Errorf("set direct_samp: %w", err)
	}
	return nil
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func recordingKind() string {
	switch {
	case cf32:
		return "cf32"
	case rf64:
		return "rf64"
	default:
		return "wav32"
	}
}

func recordingEncoding() string {
	if pcm16 {
		return "s16"
	}
	return "f32"
}

func powerMeterConfig() sink.PowerMeterConfig {
	n := bins
	if rbw > 0 {
		n = int(float64(sampleRate) / rbw)
	}
	var integ time.Duration
	if average <= 0 {
		integ = time.Duration(integration * float64(time.Second))
	}
	return sink.PowerMeterConfig{
		Bins:        n,
		CenterHz:    float64(frequencyHz),
		SampleRate:  float64(sampleRate),
		Integration: integ,
		AverageFFTs: average,
	}
}

func printPeakLines(pm *sink.PeakMeter) {
	ch, cancel := pm.Subscribe()
	defer cancel()
	for snap := range ch {
		fmt.Println(snap.Line())
	}
}
