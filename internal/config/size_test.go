package config

import "testing"

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"4096", 4096, false},
		{"1MB", 1 << 20, false},
		{"1mb", 1 << 20, false},
		{"512KB", 512 << 10, false},
		{"64K", 64 << 10, false},
		{"1.5GB", 3 << 29, false},
		{" 2M ", 2 << 20, false},
		{"10B", 10, false},
		{"", 0, true},
		{"MB", 0, true},
		{"ten", 0, true},
		{"-1MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestBufferSizeBytesFallback(t *testing.T) {
	cfg := NewDefault()
	cfg.Stream.BufferSize = "garbage"
	if got := cfg.BufferSizeBytes(); got != 1<<20 {
		t.Errorf("BufferSizeBytes() = %d, want fallback of 1 MiB", got)
	}
}
