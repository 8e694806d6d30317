// Package cli parses the kmidi command line.
package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the settings parsed from command line arguments and
// environment variables.
type Config struct {
	MIDIFile   string        // MIDI file to play
	SoundFont  string        // SoundFont (.sf2) file for synthesis
	SampleRate int           // output sample rate
	Channels   int           // output channel count (1 or 2)
	Float      bool          // render float32 instead of s16
	Seek       time.Duration // start playback at this offset
	LogLevel   string        // debug, info, warn, error
	ShowHelp   bool
}

// Usage is the one-line invocation summary.
const Usage = "usage: kmidi [flags] MIDI-file [sound-font-file]"

// ParseArgs parses args (without the program name) into a Config. The
// SoundFont falls back to the KMIDI_SOUNDFONT environment variable when no
// positional argument supplies one, and LOG_LEVEL backs the -log-level flag.
func ParseArgs(args []string) (*Config, error) {
	fs := flag.NewFlagSet("kmidi", flag.ContinueOnError)

	config := &Config{}

	var seekSec float64
	fs.IntVar(&config.SampleRate, "rate", 44100, "output sample rate")
	fs.IntVar(&config.Channels, "channels", 2, "output channels (1 or 2)")
	fs.BoolVar(&config.Float, "float", false, "render 32-bit float samples instead of 16-bit")
	fs.Float64Var(&seekSec, "seek", 0, "start playback this many seconds in")
	fs.StringVar(&config.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.BoolVar(&config.ShowHelp, "help", false, "show help")
	fs.BoolVar(&config.ShowHelp, "h", false, "show help (shorthand)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if config.ShowHelp {
		return config, nil
	}

	// Environment fallbacks; flags win.
	if config.LogLevel == "info" {
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			config.LogLevel = strings.ToLower(logLevelEnv)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.LogLevel)
	}

	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.Channels != 1 && config.Channels != 2 {
		return nil, fmt.Errorf("channels must be 1 or 2, got %d", config.Channels)
	}
	if seekSec < 0 {
		return nil, fmt.Errorf("seek offset must be non-negative, got %g", seekSec)
	}
	config.Seek = time.Duration(seekSec * float64(time.Second))

	if fs.NArg() < 1 {
		return nil, fmt.Errorf("no MIDI file given\n%s", Usage)
	}
	config.MIDIFile = fs.Arg(0)

	if fs.NArg() > 1 {
		config.SoundFont = fs.Arg(1)
	} else if sf := os.Getenv("KMIDI_SOUNDFONT"); sf != "" {
		config.SoundFont = sf
	}
	if config.SoundFont == "" {
		return nil, fmt.Errorf("no sound font given (pass one or set KMIDI_SOUNDFONT)\n%s", Usage)
	}

	return config, nil
}
