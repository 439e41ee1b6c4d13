// Radagast is a request gateway that sits between agent simulators and a
// local text-generation backend: fingerprint-keyed response caching,
// single-flight coalescing, model routing, and usage accounting.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

// Exit codes, sysexits-style where one fits.
const (
	exitOK        = 0
	exitFailure   = 1
	exitConfig    = 64  // invalid configuration
	exitBackend   = 69  // backend unreachable with backend.strict
	exitCache     = 74  // cache or database unreachable with cache.strict
	exitInterrupt = 130 // stopped by signal
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty uses built-in defaults)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("radagast", version)
		os.Exit(exitOK)
	}

	os.Exit(run(*configPath))
}
