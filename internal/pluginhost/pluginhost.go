// Package pluginhost loads, validates and runs the lifecycle of
// decoder/DSP plugins: scan a directory for dynamic libraries, resolve
// the plugin entry points, check API version and UUID uniqueness,
// initialize in load order and shut down in reverse.
//
// Two load paths exist behind the same lifecycle: dynamic libraries via
// the runtime plugin loader, and in-process builtins handed to
// RegisterBuiltin. The three stock decoders and the DSP stages do not go
// through the host: the decoder package and the playback engine
// construct them directly.
package pluginhost

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/rustyguts/musicplayer/internal/mptypes"
	"github.com/rustyguts/musicplayer/internal/registry"
)

// Version is a semantic plugin or API version.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// APIVersion is the host's plugin API version. A plugin whose
// MinAPIVersion exceeds it is rejected; major takes absolute precedence
// over minor.
var APIVersion = Version{Major: 1, Minor: 0, Patch: 0}

// Capability is a bitmask of what a plugin provides.
type Capability uint32

const (
	CapDecoder Capability = 1 << iota
	CapEncoder
	CapDSP
	CapVisualizer
	CapOutput
	CapInput
	CapUIComponent
	CapLibraryManager
	CapPlaylistHandler
)

// Info identifies a plugin. UUIDs are globally unique; a duplicate is
// rejected at load.
type Info struct {
	UUID          uuid.UUID
	Name          string
	Author        string
	Description   string
	Version       Version
	MinAPIVersion Version
}

// Plugin is the contract every plugin instance satisfies. Library
// plugins are obtained through the exported CreatePlugin symbol;
// builtins hand their constructor to RegisterBuiltin.
type Plugin interface {
	Info() Info
	Capabilities() Capability
	// Dependencies lists UUIDs of plugins that must be loaded first.
	// May return nil.
	Dependencies() []uuid.UUID
	Initialize(reg *registry.Registry) error
	Shutdown() error
	// GetService returns the service handle the plugin exposes under
	// id, or nil. Decoder factories live under ServiceDecoder.
	GetService(id registry.ServiceID) any
}

// Service names plugins and host agree on.
const (
	NameDecoderService = "mp.decoder"
	NameDSPService     = "mp.dsp"
)

var (
	ServiceDecoder = registry.HashName(NameDecoderService)
	ServiceDSP     = registry.HashName(NameDSPService)
)

// CreateFunc and DestroyFunc are the entry-point signatures a plugin
// library exports as CreatePlugin / DestroyPlugin.
type (
	CreateFunc  func() Plugin
	DestroyFunc func(Plugin)
)

// shutdownTimeout bounds a plugin's Shutdown; a plugin exceeding it is
// abandoned (logged, never joined) so a stuck plugin cannot deadlock
// host teardown.
const shutdownTimeout = 5 * time.Second

type loadedPlugin struct {
	path     string // empty for builtins
	lib      *plugin.Plugin
	create   CreateFunc
	destroy  DestroyFunc
	instance Plugin
	info     Info

	initialized bool
}

// Host owns the loaded plugin list. Not safe for concurrent use; the
// control thread drives it.
type Host struct {
	mu     sync.Mutex
	reg    *registry.Registry
	loaded []*loadedPlugin
	byUUID map[uuid.UUID]*loadedPlugin
}

// New returns a Host that hands reg to every plugin's Initialize.
func New(reg *registry.Registry) *Host {
	return &Host{
		reg:    reg,
		byUUID: make(map[uuid.UUID]*loadedPlugin),
	}
}

// librarySuffix returns the platform's dynamic-library extension.
func librarySuffix() string {
	switch runtime.GOOS {
	case "darwin":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}

// ScanDirectory enumerates regular files in dir with the platform's
// library suffix and loads each. Individual load failures are logged
// and skipped; the scan itself fails only if dir is unreadable.
func (h *Host) ScanDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return mptypes.FileNotFound.Err()
		}
		return mptypes.FileError.Err()
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if ent.Type().IsRegular() && strings.HasSuffix(ent.Name(), librarySuffix()) {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names) // deterministic load order
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := h.LoadLibrary(path); err != nil {
			log.Warn("plugin load failed", "path", path, "err", err)
		}
	}
	return nil
}

// LoadLibrary loads one plugin library: resolve CreatePlugin and
// DestroyPlugin, instantiate, validate version and UUID, append to the
// load order.
func (h *Host) LoadLibrary(path string) error {
	lib, err := plugin.Open(path)
	if err != nil {
		return mptypes.Error.Err()
	}
	createSym, err := lib.Lookup("CreatePlugin")
	if err != nil {
		return mptypes.Error.Err()
	}
	create, ok := createSym.(func() Plugin)
	if !ok {
		return mptypes.Error.Err()
	}
	destroySym, err := lib.Lookup("DestroyPlugin")
	if err != nil {
		return mptypes.Error.Err()
	}
	destroy, ok := destroySym.(func(Plugin))
	if !ok {
		return mptypes.Error.Err()
	}
	return h.admit(&loadedPlugin{
		path:    path,
		lib:     lib,
		create:  create,
		destroy: destroy,
	})
}

// RegisterBuiltin loads an in-process plugin through the same
// validation and lifecycle as a library plugin.
func (h *Host) RegisterBuiltin(create CreateFunc, destroy DestroyFunc) error {
	if create == nil {
		return mptypes.InvalidParameter.Err()
	}
	if destroy == nil {
		destroy = func(Plugin) {}
	}
	return h.admit(&loadedPlugin{create: create, destroy: destroy})
}

// admit instantiates and validates a plugin, appending it to the load
// order on success.
func (h *Host) admit(lp *loadedPlugin) error {
	inst := lp.create()
	if inst == nil {
		return mptypes.Error.Err()
	}
	info := inst.Info()

	if !apiCompatible(info.MinAPIVersion) {
		lp.destroy(inst)
		log.Warn("plugin requires newer host API",
			"plugin", info.Name, "needs", info.MinAPIVersion, "host", APIVersion)
		return mptypes.NotSupported.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.byUUID[info.UUID]; dup {
		lp.destroy(inst)
		return mptypes.AlreadyInitialized.Err()
	}
	lp.instance = inst
	lp.info = info
	h.loaded = append(h.loaded, lp)
	h.byUUID[info.UUID] = lp
	log.Info("plugin loaded", "name", info.Name, "uuid", info.UUID, "version", info.Version)
	return nil
}

// apiCompatible applies the version rule: a plugin demanding a higher
// major than the host is always rejected; at equal major a higher minor
// rejects too.
func apiCompatible(min Version) bool {
	if min.Major != APIVersion.Major {
		return min.Major < APIVersion.Major
	}
	return min.Minor <= APIVersion.Minor
}

// InitializePlugins calls Initialize on every loaded plugin in load
// order, handing each the service registry. On the first failure the
// error is returned; plugins already initialized stay initialized.
func (h *Host) InitializePlugins() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, lp := range h.loaded {
		if lp.initialized {
			continue
		}
		if err := lp.instance.Initialize(h.reg); err != nil {
			return err
		}
		lp.initialized = true
	}
	return nil
}

// ShutdownPlugins shuts down and destroys every plugin in reverse load
// order, then forgets the library handle. A Shutdown that exceeds the
// deadline is abandoned and logged; unload proceeds regardless.
func (h *Host) ShutdownPlugins() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.loaded) - 1; i >= 0; i-- {
		lp := h.loaded[i]
		if lp.initialized {
			if err := shutdownWithTimeout(lp.instance); err != nil {
				log.Error("plugin shutdown", "name", lp.info.Name, "err", err)
			}
			lp.initialized = false
		}
		lp.destroy(lp.instance)
		lp.instance = nil
		lp.lib = nil // the runtime cannot unload; drop our only reference
	}
	h.loaded = nil
	h.byUUID = make(map[uuid.UUID]*loadedPlugin)
}

func shutdownWithTimeout(p Plugin) error {
	done := make(chan error, 1)
	go func() { done <- p.Shutdown() }()
	select {
	case err := <-done:
		return err
	case <-time.After(shutdownTimeout):
		return mptypes.Timeout.Err()
	}
}

// Plugins returns the Info of every loaded plugin in load order.
func (h *Host) Plugins() []Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Info, len(h.loaded))
	for i, lp := range h.loaded {
		out[i] = lp.info
	}
	return out
}

// Count returns how many plugins are loaded.
func (h *Host) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.loaded)
}

// FindByUUID returns the live instance for id, or nil.
func (h *Host) FindByUUID(id uuid.UUID) Plugin {
	h.mu.Lock()
	defer h.mu.Unlock()
	if lp, ok := h.byUUID[id]; ok {
		return lp.instance
	}
	return nil
}

// ServicesByCapability returns, for every loaded plugin with the given
// capability, the handle it exposes under serviceID. Nil handles are
// skipped.
func (h *Host) ServicesByCapability(c Capability, serviceID registry.ServiceID) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []any
	for _, lp := range h.loaded {
		if lp.instance == nil || lp.instance.Capabilities()&c == 0 {
			continue
		}
		if svc := lp.instance.GetService(serviceID); svc != nil {
			out = append(out, svc)
		}
	}
	return out
}
