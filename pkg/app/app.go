// Package app is the kmidi player application: it wires the MIDI decoder,
// the SoundFont synthesizer and the audio device together and drives
// playback to completion.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/komh/kmididec/pkg/cli"
	"github.com/komh/kmididec/pkg/kmdec"
	"github.com/komh/kmididec/pkg/logger"
	"github.com/komh/kmididec/pkg/synth"
)

// progressInterval is how often the playback progress line refreshes.
const progressInterval = 100 * time.Millisecond

// App is the player application.
type App struct {
	log *slog.Logger
}

// New creates the player application.
func New() *App {
	return &App{}
}

// Run parses args, opens the decoder and plays the file to its end.
func (a *App) Run(args []string) error {
	config, err := cli.ParseArgs(args)
	if err != nil {
		return err
	}
	if config.ShowHelp {
		fmt.Println(cli.Usage)
		return nil
	}

	if err := logger.InitLogger(config.LogLevel); err != nil {
		return err
	}
	a.log = logger.GetLogger()

	info := kmdec.AudioInfo{
		SampleRate: config.SampleRate,
		Channels:   config.Channels,
		Format:     kmdec.FormatS16,
	}
	if config.Float {
		info.Format = kmdec.FormatFloat32
	}

	s, err := synth.New(config.SoundFont, info)
	if err != nil {
		return err
	}

	dec, err := kmdec.Open(config.MIDIFile, s, info)
	if err != nil {
		// The synthesizer is still ours when Open fails.
		s.Close()
		return err
	}
	defer dec.Close()

	a.log.Info("opened MIDI file",
		"file", config.MIDIFile,
		"duration", dec.Duration(),
		"rate", info.SampleRate,
		"channels", info.Channels,
		"format", info.Format)

	printMetadata(dec.Metadata())

	if config.Seek > 0 {
		if err := dec.Seek(config.Seek, io.SeekStart); err != nil {
			return fmt.Errorf("seek to %v: %w", config.Seek, err)
		}
	}

	return a.play(dec, info)
}

// play streams the decoder's PCM to the audio device, refreshing the
// progress line until the timeline is exhausted.
func (a *App) play(dec *kmdec.Decoder, info kmdec.AudioInfo) error {
	options := &oto.NewContextOptions{
		SampleRate:   info.SampleRate,
		ChannelCount: info.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	if info.Format == kmdec.FormatFloat32 {
		options.Format = oto.FormatFloat32LE
	}

	ctx, ready, err := oto.NewContext(options)
	if err != nil {
		return fmt.Errorf("failed to open audio device: %w", err)
	}
	<-ready

	stream := newStream(dec)
	player := ctx.NewPlayer(stream)
	defer player.Close()

	total := formatTime(dec.Duration())

	player.Play()
	for player.IsPlaying() {
		fmt.Printf("Playing time: %s of %s\r", formatTime(stream.Position()), total)
		time.Sleep(progressInterval)
	}
	fmt.Printf("Playing time: %s of %s\n", formatTime(stream.Position()), total)

	return stream.Err()
}

func printMetadata(meta kmdec.Metadata) {
	if meta.Title != "" {
		fmt.Printf("Title: %s\n", meta.Title)
	}
	if meta.Copyright != "" {
		fmt.Printf("Copyright: %s\n", meta.Copyright)
	}
}

// formatTime renders a duration as hh:mm:ss.cc, the player's classic
// progress format.
func formatTime(d time.Duration) string {
	ms := d.Milliseconds()

	sec := ms / 1000
	hund := (ms % 1000) / 10
	min := sec / 60
	sec %= 60
	hour := min / 60
	min %= 60

	return fmt.Sprintf("%02d:%02d:%02d.%02d", hour, min, sec, hund)
}
