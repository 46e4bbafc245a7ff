package pe

import (
	"encoding/binary"
	"testing"
)

func TestResourceAtBounds(t *testing.T) {
	// directory claims 0x100 bytes but the image only has 0x40; the first
	// entry declares a size that cannot fit anywhere
	data := make([]byte, 0x40)
	binary.LittleEndian.PutUint32(data, 0xFFFFFFF0)
	f := &File{data: data, resourcesOffset: 0, resourcesSize: 0x100}

	tests := []struct {
		name   string
		offset uint32
	}{
		{"offset wraps around", 0xFFFFFFFC},
		{"offset past directory end", 0x200},
		{"directory extends past image", 0x3E},
		{"declared size overruns directory", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.ResourceAt(tt.offset); err == nil {
				t.Errorf("ResourceAt(%#x) returned no error", tt.offset)
			}
		})
	}

	empty := &File{data: data}
	if _, err := empty.ResourceAt(0); err == nil {
		t.Error("ResourceAt on an image without resources returned no error")
	}
}
