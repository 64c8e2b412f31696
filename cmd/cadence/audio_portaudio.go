//go:build portaudio

package main

import (
	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/pkg/audio/portaudio"
)

func registerAudioBackends(reg *config.Registry) {
	reg.RegisterAudio("portaudio", func(config.ProviderEntry) (config.AudioBackend, error) {
		if err := portaudio.Initialize(); err != nil {
			return config.AudioBackend{}, err
		}
		return config.AudioBackend{
			Device: portaudio.Device{},
			Sink:   portaudio.Speaker{},
			Close:  portaudio.Terminate,
		}, nil
	})
}
