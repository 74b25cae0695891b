package security

import (
	"sort"
	"sync"
	"time"
)

// offenders tracks, per address, the newest qualifying event times inside
// the block window. It is independent of the event log, so a capped or
// pruned log never lifts a block, and lookups cost O(threshold).
type offenders struct {
	mu        sync.Mutex
	window    time.Duration
	keep      int
	hits      map[string][]time.Time
	refused   map[string]time.Time
	nextSweep time.Time
}

func newOffenders(window time.Duration, threshold int) *offenders {
	return &offenders{
		window:  window,
		keep:    threshold + 1,
		hits:    make(map[string][]time.Time),
		refused: make(map[string]time.Time),
	}
}

// record notes a qualifying event from ip at time at. Times are kept sorted
// so late arrivals land in place.
func (o *offenders) record(ip string, at, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sweep(now)
	times := o.hits[ip]
	i := sort.Search(len(times), func(i int) bool { return times[i].After(at) })
	times = append(times, time.Time{})
	copy(times[i+1:], times[i:])
	times[i] = at
	if len(times) > o.keep {
		times = times[len(times)-o.keep:]
	}
	o.hits[ip] = times
}

// count returns the qualifying events from ip in [now-window, now].
func (o *offenders) count(ip string, now time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.countLocked(ip, now)
}

func (o *offenders) countLocked(ip string, now time.Time) int {
	from := now.Add(-o.window)
	n := 0
	for _, t := range o.hits[ip] {
		if !t.Before(from) && !t.After(now) {
			n++
		}
	}
	return n
}

// flagged lists addresses with more than threshold qualifying events.
func (o *offenders) flagged(threshold int, now time.Time) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for ip := range o.hits {
		if o.countLocked(ip, now) > threshold {
			out = append(out, ip)
		}
	}
	sort.Strings(out)
	return out
}

// firstRefusal reports whether ip has not been refused within the window,
// and marks it refused as of now.
func (o *offenders) firstRefusal(ip string, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	last, ok := o.refused[ip]
	if ok && now.Sub(last) < o.window {
		return false
	}
	o.refused[ip] = now
	return true
}

// sweep drops addresses with nothing left inside the window, at most once
// per window.
func (o *offenders) sweep(now time.Time) {
	if now.Before(o.nextSweep) {
		return
	}
	o.nextSweep = now.Add(o.window)
	from := now.Add(-o.window)
	for ip, times := range o.hits {
		if len(times) == 0 || times[len(times)-1].Before(from) {
			delete(o.hits, ip)
		}
	}
	for ip, last := range o.refused {
		if last.Before(from) {
			delete(o.refused, ip)
		}
	}
}
