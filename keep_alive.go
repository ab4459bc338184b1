package mqttc

import (
	"sync"
	"time"
)

// minKeepAliveFireInterval is both the margin subtracted from the
// keep-alive interval and the floor on the resulting PINGREQ fire
// interval.
const minKeepAliveFireInterval = 5 * time.Second

// keepAliveInterval computes how long to wait after the last outbound
// write before firing a PINGREQ: max(keepAliveSeconds-5, 5) seconds.
func keepAliveInterval(keepAliveSeconds uint16) time.Duration {
	fire := time.Duration(keepAliveSeconds)*time.Second - minKeepAliveFireInterval
	if fire < minKeepAliveFireInterval {
		fire = minKeepAliveFireInterval
	}
	return fire
}

// KeepAliveTimer arms a single timer that fires when the connection
// has gone quiet for too long. Any outbound write resets it; a fire
// means a PINGREQ should be sent.
type KeepAliveTimer struct {
	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	fireFn   func()
}

// NewKeepAliveTimer creates a timer for the given keep-alive interval
// (in seconds, as negotiated in CONNECT). A keepAliveSeconds of 0
// disables the timer entirely: Start becomes a no-op. fireFn is
// invoked from the timer's own goroutine on expiry.
func NewKeepAliveTimer(keepAliveSeconds uint16, fireFn func()) *KeepAliveTimer {
	var interval time.Duration
	if keepAliveSeconds > 0 {
		interval = keepAliveInterval(keepAliveSeconds)
	}
	return &KeepAliveTimer{
		interval: interval,
		fireFn:   fireFn,
	}
}

// Start arms the timer. No-op if the keep-alive interval is 0.
func (k *KeepAliveTimer) Start() {
	if k.interval <= 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.timer = time.AfterFunc(k.interval, k.fireFn)
}

// ResetOnWrite restarts the countdown so the timer next fires interval
// from now, called after every outbound packet write. No-op if the keep-alive interval is 0 or the
// timer has not been started.
func (k *KeepAliveTimer) ResetOnWrite() {
	if k.interval <= 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.timer != nil {
		k.timer.Reset(k.interval)
	}
}

// Stop disarms the timer, e.g. on disconnect.
func (k *KeepAliveTimer) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.timer != nil {
		k.timer.Stop()
	}
}
