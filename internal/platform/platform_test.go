package platform

import "testing"

func TestWorkingModePlatform(t *testing.T) {
	tests := []struct {
		mode WorkingMode
		want Platform
	}{
		{ModeFirstSetup, NonRoot},
		{"", NonRoot},
		{"MODE_BOGUS", NonRoot},
		{ModeNonRoot, NonRoot},
		{ModeMagisk, Magisk},
		{ModeKernelSU, KernelSU},
		{ModeKernelSUNext, KsuNext},
		{ModeAPatch, APatch},
		{ModeSukiSU, SukiSU},
		{ModeRKSU, RKSU},
		{ModeMKSU, MKSU},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			if got := tt.mode.Platform(); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestModeForRoundTrip(t *testing.T) {
	for _, p := range All() {
		if got := ModeFor(p).Platform(); got != p {
			t.Errorf("ModeFor(%v).Platform(): got %v", p, got)
		}
	}
}

func TestParseWorkingMode(t *testing.T) {
	tests := []struct {
		in      string
		want    WorkingMode
		wantErr bool
	}{
		{"MODE_APATCH", ModeAPatch, false},
		{"mode_magisk", ModeMagisk, false},
		{"kernelsu", ModeKernelSU, false},
		{"KsuNext", ModeKernelSUNext, false},
		{"nonroot", ModeNonRoot, false},
		{"zygisk", ModeFirstSetup, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWorkingMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err: got %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlatformFamilies(t *testing.T) {
	for _, p := range []Platform{KernelSU, KsuNext, SukiSU, RKSU, MKSU} {
		if !p.IsKernelSU() {
			t.Errorf("%v should be in the KernelSU family", p)
		}
	}
	for _, p := range []Platform{Magisk, APatch, NonRoot} {
		if p.IsKernelSU() {
			t.Errorf("%v should not be in the KernelSU family", p)
		}
	}
	if NonRoot.IsRoot() || !APatch.IsRoot() {
		t.Error("IsRoot mismatch")
	}
}

func TestPlatformText(t *testing.T) {
	text, err := SukiSU.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var p Platform
	if err := p.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if p != SukiSU {
		t.Errorf("got %v, want %v", p, SukiSU)
	}
	if err := p.UnmarshalText([]byte("zygisk")); err == nil {
		t.Error("expected error for unknown platform")
	}
}
