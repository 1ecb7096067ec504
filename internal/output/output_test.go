package output

import "testing"

func TestFakeOutputOpenStartPump(t *testing.T) {
	f := NewFakeOutput()
	called := false
	if err := f.Open(0, 48000, 2, 256, func(out []float32) {
		called = true
		for i := range out {
			out[i] = 0.5
		}
	}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	buf := make([]float32, 256*2)
	f.Pump(buf)
	if !called {
		t.Fatal("fill was not invoked by Pump")
	}
	for _, s := range buf {
		if s != 0.5 {
			t.Fatalf("sample = %v, want 0.5", s)
		}
	}
}

func TestFakeOutputPumpBeforeStartIsSilent(t *testing.T) {
	f := NewFakeOutput()
	f.Open(0, 48000, 2, 256, func(out []float32) {
		for i := range out {
			out[i] = 1
		}
	})
	buf := make([]float32, 4)
	for i := range buf {
		buf[i] = 9
	}
	f.Pump(buf)
	for _, s := range buf {
		if s != 0 {
			t.Fatalf("sample before Start = %v, want 0", s)
		}
	}
}

func TestFakeOutputVolumeAppliedAfterFill(t *testing.T) {
	f := NewFakeOutput()
	f.Open(0, 48000, 2, 256, func(out []float32) {
		for i := range out {
			out[i] = 1.0
		}
	})
	f.Start()
	f.SetVolume(0.5)

	buf := make([]float32, 4)
	f.Pump(buf)
	for _, s := range buf {
		if s != 0.5 {
			t.Fatalf("sample = %v, want 0.5", s)
		}
	}
}

func TestFakeOutputOpenTwiceFails(t *testing.T) {
	f := NewFakeOutput()
	noop := func(out []float32) {}
	if err := f.Open(0, 48000, 2, 256, noop); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := f.Open(0, 48000, 2, 256, noop); err == nil {
		t.Fatal("second Open should fail with AlreadyInitialized")
	}
}

func TestFakeOutputEnumerateDevices(t *testing.T) {
	f := NewFakeOutput()
	devices, err := f.EnumerateDevices()
	if err != nil {
		t.Fatalf("EnumerateDevices: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("len(devices) = %d, want 1", len(devices))
	}
}
