package tile

import "golang.org/x/sys/cpu"

// Detect reports the tile-matrix features the host CPU advertises.
func Detect() Features {
	return Features{
		Tile:       cpu.X86.HasAMXTile,
		BF16:       cpu.X86.HasAMXBF16,
		Int8:       cpu.X86.HasAMXInt8,
		AVX512BF16: cpu.X86.HasAVX512BF16,
		AVX2:       cpu.X86.HasAVX2,
	}
}
