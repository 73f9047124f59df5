package drawing

import (
	"encoding/base64"
	"fmt"
)

// The packed pixel encoding stores one palette index per nibble, high
// nibble first, then base64s the bytes. A nibble allows palettes up to 16
// colors; the legacy palette uses 8.

// Pack encodes a flat array of palette indices. Indices outside
// [0, paletteLen) are clamped to 0 rather than rejected: corrupt historical
// pixels must not fail a whole migration.
func Pack(indices []int, paletteLen int) string {
	buf := make([]byte, (len(indices)+1)/2)
	for i, idx := range indices {
		if idx < 0 || idx >= paletteLen || idx > 0xF {
			idx = 0
		}
		if i%2 == 0 {
			buf[i/2] = byte(idx) << 4
		} else {
			buf[i/2] |= byte(idx)
		}
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// Unpack reverses Pack, returning exactly pixels indices.
func Unpack(data string, pixels int) ([]int, error) {
	buf, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode drawing data: %w", err)
	}
	if len(buf)*2 < pixels {
		return nil, fmt.Errorf("drawing data holds %d pixels, want %d", len(buf)*2, pixels)
	}
	out := make([]int, pixels)
	for i := range out {
		b := buf[i/2]
		if i%2 == 0 {
			out[i] = int(b >> 4)
		} else {
			out[i] = int(b & 0xF)
		}
	}
	return out, nil
}

// FromLegacyPixels converts a legacy flat pixel array into the canonical
// payload: packed data, the fixed legacy palette, background 0, grid 16.
// Short arrays are padded with background pixels and long ones truncated,
// so the conversion is total.
func FromLegacyPixels(pixels []int) Payload {
	area := LegacySize * LegacySize
	if len(pixels) > area {
		pixels = pixels[:area]
	} else if len(pixels) < area {
		padded := make([]int, area)
		copy(padded, pixels)
		pixels = padded
	}
	return Payload{
		Data:       Pack(pixels, len(LegacyPalette)),
		Colors:     append([]string(nil), LegacyPalette...),
		Background: 0,
		Size:       LegacySize,
	}
}
