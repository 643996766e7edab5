package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultExpiry = 3 * time.Second

// Coordinator tracks remote typists of the active room and times the local
// "I am typing" broadcast window. The window stays open while input
// activity keeps arriving and expires after a pause, at which point OnExpire
// fires once to broadcast "not typing".
type Coordinator struct {
	mx       *sync.Mutex
	logger   zerolog.Logger
	expiry   time.Duration
	onExpire func()

	typists map[int64]bool
	timer   *time.Timer
	gen     uint64
	active  bool
}

type Config struct {
	Logger   *zerolog.Logger
	Expiry   time.Duration
	OnExpire func()
}

func New(cfg Config) *Coordinator {
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Coordinator{
		mx:       &sync.Mutex{},
		logger:   cfg.Logger.With().Str("component", "typing-coordinator").Logger(),
		expiry:   expiry,
		onExpire: cfg.OnExpire,
		typists:  make(map[int64]bool),
	}
}

// Touch records local input activity and (re)arms the expiry timer.
// Reports whether a typing=true frame should be emitted, which is the case
// only for the first activity after an idle period.
func (c *Coordinator) Touch() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	// Stop does not help against a timer that already fired and is
	// waiting on the mutex; the generation makes such a fire a no-op
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.expiry, func() { c.expire(gen) })
	if c.active {
		return false
	}
	c.active = true
	return true
}

// Release closes the local broadcast window early. Reports whether a
// typing=false frame should be emitted (the window was open).
func (c *Coordinator) Release() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.stopTimerLocked()
	if !c.active {
		return false
	}
	c.active = false
	return true
}

func (c *Coordinator) expire(gen uint64) {
	c.mx.Lock()
	if gen != c.gen || !c.active {
		c.mx.Unlock()
		return
	}
	c.active = false
	c.timer = nil
	c.mx.Unlock()

	c.logger.Debug().Msg("typing window expired")
	if c.onExpire != nil {
		c.onExpire()
	}
}

// SetRemote merges a remote typing flag into the typist set.
func (c *Coordinator) SetRemote(userID int64, isTyping bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if isTyping {
		c.typists[userID] = true
		return
	}
	delete(c.typists, userID)
}

// Typists returns the ids of users currently typing, in stable order.
func (c *Coordinator) Typists() []int64 {
	c.mx.Lock()
	defer c.mx.Unlock()
	ids := make([]int64, 0, len(c.typists))
	for id := range c.typists {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clear drops all typists and cancels the local window without emitting.
// Called on room switch, unbind and session reset.
func (c *Coordinator) Clear() {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.typists = make(map[int64]bool)
	c.stopTimerLocked()
	c.active = false
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
