//go:build !portaudio

package main

import "github.com/MrWong99/cadence/internal/config"

// registerAudioBackends registers nothing; "cadence talk" needs a build with
// -tags portaudio.
func registerAudioBackends(*config.Registry) {}
