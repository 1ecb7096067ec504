// Package engine wires the core together: configuration, service
// registry, event bus, plugin host, visualization and the playback
// engine, and owns their combined lifecycle.
package engine

import (
	"os"

	"github.com/charmbracelet/log"

	"github.com/rustyguts/musicplayer/internal/config"
	"github.com/rustyguts/musicplayer/internal/decoder"
	"github.com/rustyguts/musicplayer/internal/output"
	"github.com/rustyguts/musicplayer/internal/playback"
	"github.com/rustyguts/musicplayer/internal/pluginhost"
	"github.com/rustyguts/musicplayer/internal/registry"
	"github.com/rustyguts/musicplayer/internal/src"
	"github.com/rustyguts/musicplayer/internal/visualization"
)

// Event topics the core publishes.
const (
	TopicPlaybackStarted = "playback.started"
	TopicPlaybackStopped = "playback.stopped"
)

// Core owns every subsystem. Construct with New, then Initialize.
type Core struct {
	cfg  *config.Store
	reg  *registry.Registry
	bus  *registry.Bus
	host *pluginhost.Host
	viz  *visualization.Engine
	pb   *playback.Engine
	out  output.Output

	initialized bool
}

// New builds a Core around the given output backend and settings store.
func New(out output.Output, cfg *config.Store) *Core {
	reg := registry.New()
	return &Core{
		cfg:  cfg,
		reg:  reg,
		bus:  registry.NewBus(64),
		host: pluginhost.New(reg),
		viz:  visualization.New(),
		out:  out,
	}
}

// qualityFromName maps a persisted quality name to a tier, defaulting
// to the given tier on an unknown name.
func qualityFromName(name string, fallback src.Quality) src.Quality {
	switch name {
	case "Fast":
		return src.QualityFast
	case "Balanced":
		return src.QualityBalanced
	case "Best":
		return src.QualityBest
	default:
		return fallback
	}
}

// Initialize brings every subsystem up: visualization and playback from
// the settings store, services into the registry, plugins from
// pluginDir ("" = skip scanning), config listeners last.
func (c *Core) Initialize(pluginDir string) error {
	playCfg := playback.Config{
		DeviceID:     c.cfg.GetInt(config.SectionOutput, "device_id", -1),
		SampleRate:   uint32(c.cfg.GetInt(config.SectionOutput, "sample_rate", 48000)),
		Channels:     uint32(c.cfg.GetInt(config.SectionOutput, "channels", 2)),
		BufferFrames: uint32(c.cfg.GetInt(config.SectionOutput, "buffer_frames", 1024)),
		MinQuality:   qualityFromName(c.cfg.GetString(config.SectionSRC, "min_quality", ""), src.QualityFast),
		MaxQuality:   qualityFromName(c.cfg.GetString(config.SectionSRC, "max_quality", ""), src.QualityBest),
		CPUThreshold: c.cfg.GetFloat(config.SectionSRC, "cpu_threshold", 80),
	}

	vizCfg := visualization.Config{
		WaveformTimeSpan: c.cfg.GetFloat(config.SectionUI, "waveform_time_span", 0),
		SpectrumBars:     c.cfg.GetInt(config.SectionUI, "spectrum_bars", 0),
		MaxSampleRate:    playCfg.SampleRate,
		Channels:         playCfg.Channels,
	}
	if err := c.viz.Initialize(vizCfg); err != nil {
		return err
	}

	c.pb = playback.New(c.out, c.viz)
	if err := c.pb.Initialize(playCfg); err != nil {
		return err
	}
	c.pb.SetVolume(c.cfg.GetFloat(config.SectionPlayback, "volume", 1.0))
	c.pb.SetGapless(c.cfg.GetBool(config.SectionPlayback, "gapless", true))
	c.applyEQFromConfig()

	c.bus.Start()

	// Non-owning handles only; ownership stays here.
	for id, handle := range map[registry.ServiceID]any{
		registry.ServicePlaybackEngine: c.pb,
		registry.ServiceEventBus:       c.bus,
		registry.ServiceVisualization:  c.viz,
		registry.ServiceConfigManager:  c.cfg,
		registry.ServicePluginHost:     c.host,
		registry.ServiceAudioOutput:    c.out,
	} {
		if err := c.reg.Register(id, handle); err != nil {
			return err
		}
	}

	if pluginDir != "" {
		if _, err := os.Stat(pluginDir); err == nil {
			if err := c.host.ScanDirectory(pluginDir); err != nil {
				log.Warn("plugin scan failed", "dir", pluginDir, "err", err)
			}
		}
	}
	if err := c.host.InitializePlugins(); err != nil {
		return err
	}
	// Plugin-supplied decoders join the probe order behind the
	// builtins.
	for _, svc := range c.host.ServicesByCapability(pluginhost.CapDecoder, pluginhost.ServiceDecoder) {
		if factory, ok := svc.(decoder.Factory); ok {
			decoder.Register(factory)
		}
	}

	c.wireConfigListeners()
	c.initialized = true
	return nil
}

// applyEQFromConfig pushes the persisted band gains into the equalizer.
func (c *Core) applyEQFromConfig() {
	stages := c.pb.Chain().Stages()
	if len(stages) == 0 {
		return
	}
	eq := stages[0]
	for i := 0; i < eq.ParamCount(); i++ {
		gain := c.cfg.GetFloat(config.SectionEQ, config.BandKey(i), 0)
		if gain != 0 {
			_ = eq.SetParam(i, gain)
		}
	}
}

// wireConfigListeners applies settings changes live.
func (c *Core) wireConfigListeners() {
	c.cfg.AddListener(config.SectionPlayback, "volume", func(_, _ string, v any) {
		if f, ok := v.(float64); ok {
			c.pb.SetVolume(f)
		}
	})
	c.cfg.AddListener(config.SectionPlayback, "gapless", func(_, _ string, v any) {
		if b, ok := v.(bool); ok {
			c.pb.SetGapless(b)
		}
	})
	for i := 0; i < 10; i++ {
		band := i
		c.cfg.AddListener(config.SectionEQ, config.BandKey(i), func(_, _ string, v any) {
			if f, ok := v.(float64); ok {
				stages := c.pb.Chain().Stages()
				if len(stages) > 0 {
					_ = stages[0].SetParam(band, f)
				}
			}
		})
	}
}

// PlayFile loads and starts path on the playback engine.
func (c *Core) PlayFile(path string) error {
	if c.pb.State() != playback.Stopped {
		_ = c.pb.Stop()
	}
	if err := c.pb.LoadTrack(path); err != nil {
		return err
	}
	if err := c.pb.Play(); err != nil {
		return err
	}
	c.bus.Publish(registry.Event{Topic: TopicPlaybackStarted, Payload: path})
	return nil
}

// Shutdown stops playback, shuts the plugins down, stops the event bus,
// unregisters the core services and auto-saves dirty settings.
func (c *Core) Shutdown() {
	if !c.initialized {
		return
	}
	c.pb.Shutdown()
	c.bus.Publish(registry.Event{Topic: TopicPlaybackStopped})
	c.host.ShutdownPlugins()
	c.bus.Stop()
	for _, id := range []registry.ServiceID{
		registry.ServicePlaybackEngine,
		registry.ServiceEventBus,
		registry.ServiceVisualization,
		registry.ServiceConfigManager,
		registry.ServicePluginHost,
		registry.ServiceAudioOutput,
	} {
		_ = c.reg.Unregister(id)
	}
	if err := c.cfg.SaveIfDirty(); err != nil {
		log.Warn("config save failed", "err", err)
	}
	c.initialized = false
}

// Playback exposes the playback engine.
func (c *Core) Playback() *playback.Engine { return c.pb }

// Visualization exposes the visualization engine.
func (c *Core) Visualization() *visualization.Engine { return c.viz }

// Plugins exposes the plugin host.
func (c *Core) Plugins() *pluginhost.Host { return c.host }

// Registry exposes the service registry.
func (c *Core) Registry() *registry.Registry { return c.reg }

// Bus exposes the event bus.
func (c *Core) Bus() *registry.Bus { return c.bus }
