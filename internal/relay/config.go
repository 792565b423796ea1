package relay

import (
	"time"
)

// controlInterval is the period of the control ticker that observes Stop and
// sweeps expired UDP sessions.
const controlInterval = 500 * time.Millisecond

// statsEvery is how many control ticks pass between traffic log lines.
const statsEvery = 10
