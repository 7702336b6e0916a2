// Package tile models the tile-matrix register file used by the blocked GEMM
// kernel: the 64-byte palette configuration, the register operations of a
// bf16 tile unit, and the guard that amortises reconfiguration.
package tile

import (
	"encoding/binary"
	"fmt"
)

const (
	// NumRegs is the number of architectural tile registers.
	NumRegs = 8
	// MaxRows is the row capacity of one tile register.
	MaxRows = 16
	// RowBytes is the byte width of one tile row.
	RowBytes = 64
	// RegBytes is the capacity of one tile register.
	RegBytes = MaxRows * RowBytes
	// ConfigBytes is the size of the palette structure loaded by LDTILECFG.
	ConfigBytes = 64
)

// Register assignment of the 32x32 blocked GEMM kernel: four f32
// accumulators, two A row panels and two B column panels.
const (
	C00 = 0
	C01 = 1
	C10 = 2
	C11 = 3
	A0  = 4
	A1  = 5
	B0  = 6
	B1  = 7
)

// Config is the palette-1 tile configuration in hardware layout.
type Config struct {
	Palette  uint8
	StartRow uint8
	_        [14]uint8
	ColsB    [16]uint16
	Rows     [16]uint8
}

// Set shapes register t as rows x colsB bytes.
func (c *Config) Set(t, rows, colsB int) {
	c.Rows[t] = uint8(rows)
	c.ColsB[t] = uint16(colsB)
}

// Validate checks the palette, register count and per-register limits.
func (c *Config) Validate() error {
	if c.Palette != 1 {
		return fmt.Errorf("tile: palette must be 1, got %d", c.Palette)
	}
	if c.StartRow != 0 {
		return fmt.Errorf("tile: start row must be 0, got %d", c.StartRow)
	}
	for t := 0; t < len(c.Rows); t++ {
		rows, cols := int(c.Rows[t]), int(c.ColsB[t])
		if t >= NumRegs {
			if rows != 0 || cols != 0 {
				return fmt.Errorf("tile: register %d configured beyond %d registers", t, NumRegs)
			}
			continue
		}
		if rows > MaxRows {
			return fmt.Errorf("tile: register %d rows %d exceed %d", t, rows, MaxRows)
		}
		if cols > RowBytes || cols%4 != 0 {
			return fmt.Errorf("tile: register %d colsb %d invalid", t, cols)
		}
		if (rows == 0) != (cols == 0) {
			return fmt.Errorf("tile: register %d half configured (%d rows, %d bytes)", t, rows, cols)
		}
	}
	return nil
}

// Bytes encodes c into the 64-byte hardware image.
func (c *Config) Bytes() [ConfigBytes]byte {
	var b [ConfigBytes]byte
	b[0] = c.Palette
	b[1] = c.StartRow
	for i, v := range c.ColsB {
		binary.LittleEndian.PutUint16(b[16+2*i:], v)
	}
	copy(b[48:], c.Rows[:])
	return b
}

// GemmConfig returns the configuration the blocked kernel uses for a 32-row
// step holding m valid rows, 1 <= m <= 32. With m <= 16 both row panels
// cover the same m rows and A1 is never loaded separately.
func GemmConfig(m int) *Config {
	if m < 1 || m > 2*MaxRows {
		panic(fmt.Sprintf("tile: gemm rows %d outside [1,32]", m))
	}
	rows0, rows1 := MaxRows, m-MaxRows
	if m <= MaxRows {
		rows0, rows1 = m, m
	}
	c := &Config{Palette: 1}
	c.Set(C00, rows0, RowBytes)
	c.Set(C01, rows0, RowBytes)
	c.Set(C10, rows1, RowBytes)
	c.Set(C11, rows1, RowBytes)
	c.Set(A0, rows0, RowBytes)
	c.Set(A1, rows1, RowBytes)
	c.Set(B0, MaxRows, RowBytes)
	c.Set(B1, MaxRows, RowBytes)
	return c
}

// GemmConfigs returns the table indexed by m%32: entry 0 is the full 32-row
// step and entry i the i-row tail.
func GemmConfigs() [32]*Config {
	var t [32]*Config
	t[0] = GemmConfig(32)
	for i := 1; i < 32; i++ {
		t[i] = GemmConfig(i)
	}
	return t
}
