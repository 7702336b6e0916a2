package tile

import "testing"

type countingUnit struct {
	*Soft
	loads, releases int
}

func (c *countingUnit) LoadConfig(cfg *Config) {
	c.loads++
	c.Soft.LoadConfig(cfg)
}

func (c *countingUnit) Release() {
	c.releases++
	c.Soft.Release()
}

func TestGuardSkipsSameConfig(t *testing.T) {
	u := &countingUnit{Soft: NewSoft()}
	g := NewGuard(u)
	tab := GemmConfigs()

	g.Configure(tab[0])
	g.Configure(tab[0])
	g.Configure(tab[0])
	if u.loads != 1 || g.Reconfigs() != 1 {
		t.Fatalf("loads=%d reconfigs=%d want 1", u.loads, g.Reconfigs())
	}

	g.Configure(tab[7])
	g.Configure(tab[0])
	if u.loads != 3 {
		t.Fatalf("loads=%d want 3", u.loads)
	}
	if g.Active() != tab[0] {
		t.Fatal("active config not tracked")
	}

	g.Configure(nil)
	g.Configure(nil)
	if u.releases != 1 || g.Active() != nil {
		t.Fatalf("releases=%d want 1", u.releases)
	}
}

func TestGuardComparesByIdentity(t *testing.T) {
	u := &countingUnit{Soft: NewSoft()}
	g := NewGuard(u)
	g.Configure(GemmConfig(32))
	// Equal contents, different pointer.
	g.Configure(GemmConfig(32))
	if u.loads != 2 {
		t.Fatalf("loads=%d want 2", u.loads)
	}
}

func TestGuardReleaseWithoutConfigIsNoop(t *testing.T) {
	u := &countingUnit{Soft: NewSoft()}
	NewGuard(u).Configure(nil)
	if u.releases != 0 {
		t.Fatalf("releases=%d want 0", u.releases)
	}
}

func TestDetectReportsHardware(t *testing.T) {
	f := Detect()
	if f.Emulated {
		t.Fatal("host detection must not report emulation")
	}
	if f.BF16 && !f.Tile {
		t.Fatal("amx-bf16 implies amx-tile")
	}
}
