package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meigma/imgopt"
)

func TestSniff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want imgopt.Format
		ok   bool
	}{
		{
			name: "jpeg magic",
			data: []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10},
			want: imgopt.FormatJPEG,
			ok:   true,
		},
		{
			name: "webp riff container",
			data: []byte("RIFF\x24\x00\x00\x00WEBPVP8 "),
			want: imgopt.FormatWebP,
			ok:   true,
		},
		{
			name: "avif ftyp box",
			data: []byte("\x00\x00\x00\x1cftypavifmif1"),
			want: imgopt.FormatAVIF,
			ok:   true,
		},
		{
			name: "avif sequence brand",
			data: []byte("\x00\x00\x00\x1cftypavismif1"),
			want: imgopt.FormatAVIF,
			ok:   true,
		},
		{
			name: "png is not recognized",
			data: []byte("\x89PNG\r\n\x1a\n"),
			ok:   false,
		},
		{
			name: "riff but not webp",
			data: []byte("RIFF\x24\x00\x00\x00WAVEfmt "),
			ok:   false,
		},
		{
			name: "empty",
			data: nil,
			ok:   false,
		},
		{
			name: "truncated",
			data: []byte{0xFF, 0xD8},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Sniff(tt.data)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
