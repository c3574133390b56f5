package turn

import "sync"

// InterruptController watches per-tick volume while the assistant is
// speaking and fires the barge-in trigger when the user talks over it.
// MinTicks > 1 requires that many consecutive above-threshold windows before
// triggering, filtering one-window noise spikes.
type InterruptController struct {
	mu        sync.Mutex
	fsm       *FSM
	threshold float64
	minTicks  int
	run       int
	trigger   func()
}

func NewInterruptController(fsm *FSM, threshold float64, minTicks int, trigger func()) *InterruptController {
	if minTicks <= 0 {
		minTicks = 1
	}
	return &InterruptController{
		fsm:       fsm,
		threshold: threshold,
		minTicks:  minTicks,
		trigger:   trigger,
	}
}

// OnVolume consumes one volume sample. Returns true when it fired the
// barge-in trigger.
func (c *InterruptController) OnVolume(rms float64) bool {
	if c.fsm.State() != StateSpeaking {
		c.mu.Lock()
		c.run = 0
		c.mu.Unlock()
		return false
	}
	c.mu.Lock()
	if rms <= c.threshold {
		c.run = 0
		c.mu.Unlock()
		return false
	}
	c.run++
	fire := c.run >= c.minTicks
	if fire {
		c.run = 0
	}
	c.mu.Unlock()

	if fire && c.trigger != nil {
		c.trigger()
	}
	return fire
}
