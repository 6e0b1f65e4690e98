package controller

import (
	"math/rand/v2"
	"time"

	"dario.cat/mergo"
	"k8s.io/utils/clock"
)

// Options tune the timing of appliance interactions. Zero fields take the
// value from DefaultOptions, so a budget can not be configured to zero.
type Options struct {
	// Clock realizes every wait. Tests use a fake clock.
	Clock clock.Clock
	// Rand selects among discovered storage paths.
	Rand *rand.Rand

	// DiscoveryAttempts and DiscoveryDelay bound a single FCP disk query for one device.
	DiscoveryAttempts int
	DiscoveryDelay    time.Duration
	// ScanBudget and ScanInterval bound path resolution across all devices.
	ScanBudget   int
	ScanInterval time.Duration
	// DiscoveryRounds bound the discovery trigger rounds before an image upload,
	// each round waits DiscoveryWait for the asynchronous discovery to finish.
	DiscoveryRounds int
	DiscoveryWait   time.Duration

	// TriggerAttempts and TriggerDelay bound asynchronous trigger calls.
	TriggerAttempts int
	TriggerDelay    time.Duration

	// RebootAttempts and RebootInterval bound the wait for a rebooting appliance.
	RebootAttempts int
	RebootInterval time.Duration

	// SettleDelay is waited before first-time setup touches a freshly started appliance.
	SettleDelay time.Duration
}

// DefaultOptions returns the timings the appliance is known to need.
func DefaultOptions() Options {
	return Options{
		Clock:             clock.RealClock{},
		Rand:              rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec // load distribution, not security.
		DiscoveryAttempts: 6,
		DiscoveryDelay:    15 * time.Second,
		ScanBudget:        6,
		ScanInterval:      15 * time.Second,
		DiscoveryRounds:   10,
		DiscoveryWait:     2 * time.Minute,
		TriggerAttempts:   5,
		TriggerDelay:      15 * time.Second,
		RebootAttempts:    30,
		RebootInterval:    30 * time.Second,
		SettleDelay:       3 * time.Minute,
	}
}

// withDefaults fills every zero field of o from DefaultOptions.
func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	_ = mergo.Merge(&o, &defaults)

	return o
}
