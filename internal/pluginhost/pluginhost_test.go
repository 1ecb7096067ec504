package pluginhost

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyguts/musicplayer/internal/mptypes"
	"github.com/rustyguts/musicplayer/internal/registry"
)

// recorder collects lifecycle calls across a set of test plugins so
// ordering can be asserted.
type recorder struct {
	events []string
}

type testPlugin struct {
	rec     *recorder
	info    Info
	caps    Capability
	initErr error
	slow    time.Duration
	service any
}

func (p *testPlugin) Info() Info                    { return p.info }
func (p *testPlugin) Capabilities() Capability      { return p.caps }
func (p *testPlugin) Dependencies() []uuid.UUID     { return nil }
func (p *testPlugin) GetService(id registry.ServiceID) any {
	if id == ServiceDecoder {
		return p.service
	}
	return nil
}

func (p *testPlugin) Initialize(reg *registry.Registry) error {
	p.rec.events = append(p.rec.events, "init:"+p.info.Name)
	return p.initErr
}

func (p *testPlugin) Shutdown() error {
	if p.slow > 0 {
		time.Sleep(p.slow)
	}
	p.rec.events = append(p.rec.events, "shutdown:"+p.info.Name)
	return nil
}

func makePlugin(rec *recorder, name string, id uuid.UUID) *testPlugin {
	return &testPlugin{
		rec: rec,
		info: Info{
			UUID:          id,
			Name:          name,
			Author:        "test",
			Version:       Version{1, 0, 0},
			MinAPIVersion: Version{1, 0, 0},
		},
		caps: CapDecoder,
	}
}

func registerRecorded(t *testing.T, h *Host, rec *recorder, p *testPlugin) {
	t.Helper()
	require.NoError(t, h.RegisterBuiltin(
		func() Plugin { return p },
		func(Plugin) { rec.events = append(rec.events, "destroy:"+p.info.Name) },
	))
}

func TestDuplicateUUIDRejected(t *testing.T) {
	rec := &recorder{}
	h := New(registry.New())
	shared := uuid.New()

	registerRecorded(t, h, rec, makePlugin(rec, "first", shared))
	registerRecorded(t, h, rec, makePlugin(rec, "second", uuid.New()))

	dup := makePlugin(rec, "third", shared)
	err := h.RegisterBuiltin(func() Plugin { return dup }, nil)
	require.Error(t, err)
	assert.Equal(t, mptypes.AlreadyInitialized, mptypes.Kind(err))
	assert.Equal(t, 2, h.Count())
}

func TestVersionGate(t *testing.T) {
	rec := &recorder{}
	cases := []struct {
		name string
		min  Version
		ok   bool
	}{
		{"equal", Version{1, 0, 0}, true},
		{"older major", Version{0, 9, 0}, true},
		{"newer major", Version{2, 0, 0}, false},
		{"newer minor", Version{1, 1, 0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(registry.New())
			p := makePlugin(rec, tc.name, uuid.New())
			p.info.MinAPIVersion = tc.min
			err := h.RegisterBuiltin(func() Plugin { return p }, nil)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, mptypes.NotSupported, mptypes.Kind(err))
			}
		})
	}
}

func TestLifecycleOrdering(t *testing.T) {
	rec := &recorder{}
	h := New(registry.New())
	a := makePlugin(rec, "a", uuid.New())
	b := makePlugin(rec, "b", uuid.New())
	c := makePlugin(rec, "c", uuid.New())
	for _, p := range []*testPlugin{a, b, c} {
		registerRecorded(t, h, rec, p)
	}

	require.NoError(t, h.InitializePlugins())
	h.ShutdownPlugins()

	assert.Equal(t, []string{
		"init:a", "init:b", "init:c",
		"shutdown:c", "destroy:c",
		"shutdown:b", "destroy:b",
		"shutdown:a", "destroy:a",
	}, rec.events)
	assert.Zero(t, h.Count(), "no plugin instance live after shutdown")
}

func TestInitializeStopsAtFirstFailure(t *testing.T) {
	rec := &recorder{}
	h := New(registry.New())
	a := makePlugin(rec, "a", uuid.New())
	b := makePlugin(rec, "b", uuid.New())
	b.initErr = mptypes.Error.Err()
	c := makePlugin(rec, "c", uuid.New())
	for _, p := range []*testPlugin{a, b, c} {
		registerRecorded(t, h, rec, p)
	}

	err := h.InitializePlugins()
	require.Error(t, err)
	// a stays initialized; c was never reached.
	assert.Equal(t, []string{"init:a", "init:b"}, rec.events)
}

func TestServicesByCapability(t *testing.T) {
	rec := &recorder{}
	h := New(registry.New())
	dec := makePlugin(rec, "dec", uuid.New())
	dec.service = "decoder-factory"
	other := makePlugin(rec, "other", uuid.New())
	other.caps = CapDSP
	registerRecorded(t, h, rec, dec)
	registerRecorded(t, h, rec, other)

	svcs := h.ServicesByCapability(CapDecoder, ServiceDecoder)
	require.Len(t, svcs, 1)
	assert.Equal(t, "decoder-factory", svcs[0])
}

func TestFindByUUID(t *testing.T) {
	rec := &recorder{}
	h := New(registry.New())
	id := uuid.New()
	p := makePlugin(rec, "p", id)
	registerRecorded(t, h, rec, p)

	assert.Equal(t, Plugin(p), h.FindByUUID(id))
	assert.Nil(t, h.FindByUUID(uuid.New()))
}

func TestScanDirectoryMissing(t *testing.T) {
	h := New(registry.New())
	err := h.ScanDirectory(t.TempDir() + "/nope")
	require.Error(t, err)
	assert.Equal(t, mptypes.FileNotFound, mptypes.Kind(err))
}

func TestScanDirectoryIgnoresNonLibraries(t *testing.T) {
	h := New(registry.New())
	require.NoError(t, h.ScanDirectory(t.TempDir()))
	assert.Zero(t, h.Count())
}
