// Command musicplayer is the CLI front end: play a file, emit a test
// tone, or list devices and plugins.
package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
	"github.com/spf13/pflag"

	"github.com/rustyguts/musicplayer/internal/config"
	"github.com/rustyguts/musicplayer/internal/engine"
	"github.com/rustyguts/musicplayer/internal/output"
	"github.com/rustyguts/musicplayer/internal/playback"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		testTone    = pflag.Bool("test", false, "play a 2 s 440 Hz test tone and exit")
		listPlugins = pflag.Bool("list-plugins", false, "list loaded plugins and exit")
		listDevices = pflag.Bool("list-devices", false, "list output devices and exit")
		showVersion = pflag.Bool("version", false, "print version and exit")
		deviceID    = pflag.Int("device", -1, "output device index (-1 = default)")
		configPath  = pflag.String("config", "", "settings file (default: per-user config dir)")
		pluginDir   = pflag.String("plugin-dir", defaultPluginDir(), "directory scanned for plugin libraries")
		verbose     = pflag.BoolP("verbose", "v", false, "debug logging")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] [file]\n\n", filepath.Base(os.Args[0]))
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if *showVersion {
		fmt.Println("musicplayer", version)
		return 0
	}

	if err := portaudio.Initialize(); err != nil {
		log.Error("audio subsystem init failed", "err", err)
		return 1
	}
	defer portaudio.Terminate()

	out := output.NewPortAudioOutput()

	if *listDevices {
		return listOutputDevices(out)
	}
	if *testTone {
		return playTestTone(out)
	}

	cfg := config.Load(*configPath)
	if *deviceID >= 0 {
		cfg.SetInt(config.SectionOutput, "device_id", *deviceID)
	}

	core := engine.New(out, cfg)
	if err := core.Initialize(*pluginDir); err != nil {
		log.Error("engine init failed", "err", err)
		return 1
	}
	defer core.Shutdown()

	if *listPlugins {
		for _, info := range core.Plugins().Plugins() {
			fmt.Printf("%-24s %-10s %s (%s)\n", info.Name, info.Version, info.UUID, info.Author)
		}
		return 0
	}

	args := pflag.Args()
	if len(args) != 1 {
		pflag.Usage()
		return 1
	}
	if err := core.PlayFile(args[0]); err != nil {
		log.Error("playback failed", "path", args[0], "err", err)
		return 1
	}

	pb := core.Playback()
	for pb.State() != playback.Stopped {
		time.Sleep(100 * time.Millisecond)
	}
	_ = pb.Stop() // release the device after an EOS degrade
	return 0
}

func defaultPluginDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "plugins"
	}
	return filepath.Join(filepath.Dir(exe), "plugins")
}

func listOutputDevices(out output.Output) int {
	devices, err := out.EnumerateDevices()
	if err != nil {
		log.Error("device enumeration failed", "err", err)
		return 1
	}
	for _, d := range devices {
		fmt.Printf("%3d  %-40s %d ch  %.0f Hz\n", d.ID, d.Name, d.MaxOutputChannels, d.DefaultSampleRate)
	}
	return 0
}

// playTestTone drives a 440 Hz sine straight through the output for
// two seconds, bypassing the decode pipeline.
func playTestTone(out output.Output) int {
	const (
		rate     = 48000
		channels = 2
		freq     = 440.0
	)
	var phase float64
	step := 2 * math.Pi * freq / rate
	fill := func(buf []float32) {
		for f := 0; f < len(buf)/channels; f++ {
			v := float32(0.5 * math.Sin(phase))
			phase += step
			for c := 0; c < channels; c++ {
				buf[f*channels+c] = v
			}
		}
	}
	if err := out.Open(-1, rate, channels, 1024, fill); err != nil {
		log.Error("output open failed", "err", err)
		return 1
	}
	defer out.Close()
	if err := out.Start(); err != nil {
		log.Error("output start failed", "err", err)
		return 1
	}
	time.Sleep(2 * time.Second)
	_ = out.Stop()
	return 0
}
