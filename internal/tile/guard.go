package tile

// Guard applies tile configurations to one Unit, skipping the reload when
// the requested configuration is the one already active. Identity is by
// pointer, so callers keep their configurations in a fixed table. A Guard
// belongs to a single goroutine along with its Unit.
type Guard struct {
	unit      Unit
	last      *Config
	reconfigs int
}

func NewGuard(u Unit) *Guard {
	return &Guard{unit: u}
}

// Configure makes cfg the active configuration. Configure(nil) releases the
// unit and must close every hot loop.
func (g *Guard) Configure(cfg *Config) {
	if cfg == g.last {
		return
	}
	if cfg == nil {
		g.unit.Release()
	} else {
		g.unit.LoadConfig(cfg)
		g.reconfigs++
	}
	g.last = cfg
}

// Active returns the configuration currently applied, nil when released.
func (g *Guard) Active() *Config { return g.last }

// Reconfigs counts the configuration loads issued so far.
func (g *Guard) Reconfigs() int { return g.reconfigs }

// Unit returns the guarded unit.
func (g *Guard) Unit() Unit { return g.unit }
