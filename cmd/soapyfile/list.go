package main

import (
	"fmt"
	"os"

	"github.com/chzchzchz/soapyfile/internal/radio"
)

// list implements the "list" subcommand: it dials the configured rtl_tcp
// endpoint and reports the single tuner it serves, per radio.List.
func list() {
	addr := resolveDeviceAddr()
	infos, err := radio.List(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "soapyfile: list %s: %v\n", addr, err)
		os.Exit(1)
	}
	for _, info := range infos {
		fmt.Printf("%s\t%d-%d Hz\t%d-%d sps\n", info.ID, info.MinHz, info.MaxHz, info.MinSampleRate, info.MaxSampleRate)
	}
}

// resolveDeviceAddr applies the --device / $RTL_TCP_ADDR / default
// precedence documented for the server.
func resolveDeviceAddr() string {
	if deviceAddr != "" {
		return deviceAddr
	}
	if env := os.Getenv("RTL_TCP_ADDR"); env != "" {
		return env
	}
	return "127.0.0.1:1234"
}
