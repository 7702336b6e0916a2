package simd

import "os"

// CPUFeatures holds detected CPU capabilities, checked once at init.
type CPUFeatures struct {
	HasAVX2 bool
}

var cpu CPUFeatures

// Features reports what the vector loops in this package dispatch to.
func Features() CPUFeatures { return cpu }

// noSimdEnv reports whether MLPCORE_NO_SIMD forces the scalar loops.
func noSimdEnv() bool {
	v := os.Getenv("MLPCORE_NO_SIMD")
	return v != "" && v != "0" && v != "false"
}
