// Package pacing implements the sender-side adaptive inter-piece delay
// controller (spec.md §4.5). It reacts only to the loss signal carried in
// each observed ResumeRequest (a non-empty missing set), without any
// additional RTT machinery — a deliberately simple, conservative design for
// a transport with no per-packet ACK primitive.
package pacing

import "sync"

// Config holds the tunable pacing knobs (spec.md §6).
type Config struct {
	InitialDelaySeconds float64
	MaxDelaySeconds     float64
	BackoffFactor       float64
	RetryThreshold      int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		InitialDelaySeconds: 1.0,
		MaxDelaySeconds:     30.0,
		BackoffFactor:       1.5,
		RetryThreshold:      3,
	}
}

// Controller tracks current_delay and loss_retry_counter for one send
// transfer.
type Controller struct {
	cfg Config

	mu                sync.Mutex
	currentDelay      float64
	lossRetryCounter  int
}

// New creates a controller initialized at cfg.InitialDelaySeconds.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, currentDelay: cfg.InitialDelaySeconds}
}

// CurrentDelay returns the current inter-piece delay in seconds. It is
// always within [InitialDelaySeconds, MaxDelaySeconds].
func (c *Controller) CurrentDelay() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDelay
}

// OnResumeRequest updates the controller's state given whether the most
// recently observed ResumeRequest carried a non-empty missing set.
//
//   - missing non-empty: increments the loss counter; once it reaches
//     RetryThreshold, current_delay is multiplied by BackoffFactor (capped
//     at MaxDelaySeconds) and the counter resets to zero.
//   - missing empty: the loss counter resets to zero. current_delay is
//     never decreased in this design (spec.md §9, open question c).
func (c *Controller) OnResumeRequest(missingNonEmpty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !missingNonEmpty {
		c.lossRetryCounter = 0
		return
	}

	c.lossRetryCounter++
	if c.lossRetryCounter >= c.cfg.RetryThreshold {
		next := c.currentDelay * c.cfg.BackoffFactor
		if next > c.cfg.MaxDelaySeconds {
			next = c.cfg.MaxDelaySeconds
		}
		c.currentDelay = next
		c.lossRetryCounter = 0
	}
}

// LossRetryCounter returns the current consecutive-loss counter (exposed
// for tests and status reporting).
func (c *Controller) LossRetryCounter() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lossRetryCounter
}
