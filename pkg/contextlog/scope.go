package contextlog

// Scope is the lifecycle/retention class of a context.
type Scope string

const (
	// ScopeSession is short-lived: aggressive compression, no identity doc.
	ScopeSession Scope = "session"

	// ScopeProject is long-lived: gentler compression plus a durable
	// identity document describing the project.
	ScopeProject Scope = "project"
)

// Compression ratios per scope. The ratio is the fraction of ordinary
// events a compaction pass removes.
const (
	SessionCompressionRatio = 0.7
	ProjectCompressionRatio = 0.5
)

// ScopeConfig fixes compaction aggressiveness and retention policy for a
// context. Immutable after creation except for the one-directional
// session-to-project upgrade.
type ScopeConfig struct {
	Scope            Scope
	CompressionRatio float64
	Identity         string
}

// SessionScope returns the short-lived scope variant.
func SessionScope() ScopeConfig {
	return ScopeConfig{
		Scope:            ScopeSession,
		CompressionRatio: SessionCompressionRatio,
	}
}

// ProjectScope returns the long-lived scope variant with its identity doc.
func ProjectScope(identity string) ScopeConfig {
	return ScopeConfig{
		Scope:            ScopeProject,
		CompressionRatio: ProjectCompressionRatio,
		Identity:         identity,
	}
}
