package compressor

// Format is an image texel format.
type Format int

const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatBGRA8SRGB
	FormatR32Float
	FormatRGBA16Float
	FormatRGBA32Float
	// Block compressed formats store 4x4 texel blocks.
	FormatBC1RGBAUnorm
	FormatBC3Unorm
	FormatBC7Unorm
)

var formatNames = map[Format]string{
	FormatUndefined:    "undefined",
	FormatRGBA8Unorm:   "rgba8unorm",
	FormatBGRA8Unorm:   "bgra8unorm",
	FormatBGRA8SRGB:    "bgra8srgb",
	FormatR32Float:     "r32float",
	FormatRGBA16Float:  "rgba16float",
	FormatRGBA32Float:  "rgba32float",
	FormatBC1RGBAUnorm: "bc1rgbaunorm",
	FormatBC3Unorm:     "bc3unorm",
	FormatBC7Unorm:     "bc7unorm",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "unknown"
}

// Compressed reports whether f is a block compressed format.
func (f Format) Compressed() bool {
	switch f {
	case FormatBC1RGBAUnorm, FormatBC3Unorm, FormatBC7Unorm:
		return true
	}
	return false
}

// BlockSize returns the size in bytes of one texel, or of one 4x4 block for
// compressed formats.
func (f Format) BlockSize() uint64 {
	switch f {
	case FormatRGBA8Unorm, FormatBGRA8Unorm, FormatBGRA8SRGB, FormatR32Float:
		return 4
	case FormatRGBA16Float, FormatBC1RGBAUnorm:
		return 8
	case FormatRGBA32Float, FormatBC3Unorm, FormatBC7Unorm:
		return 16
	}
	return 0
}

// SizeOf returns the tightly packed byte size of an image of extent e.
func (f Format) SizeOf(e Extent) uint64 {
	w, h := uint64(e.Width), uint64(e.Height)
	if f.Compressed() {
		w = (w + 3) / 4
		h = (h + 3) / 4
	}
	return w * h * f.BlockSize()
}
