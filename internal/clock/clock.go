// Package clock tracks the world clock: a monotonic counter of game-seconds
// that advances at TimeScale × real time. One game-day is 86400 game-seconds.
package clock

const GameDay = 86400.0

// WorldClock is advanced only by the tick worker; readers elsewhere must go
// through a snapshot taken at an inter-phase boundary.
type WorldClock struct {
	timeScale float64
	now       float64 // game-seconds since world start
}

func New(timeScale float64) *WorldClock {
	if timeScale <= 0 {
		timeScale = 1
	}
	return &WorldClock{timeScale: timeScale}
}

// NewAt restores a clock from a persisted world time.
func NewAt(timeScale, worldTime float64) *WorldClock {
	c := New(timeScale)
	c.now = worldTime
	return c
}

// Advance moves the clock forward by a real-time delta in seconds and returns
// the game-time delta that elapsed.
func (c *WorldClock) Advance(realDt float64) float64 {
	dt := realDt * c.timeScale
	c.now += dt
	return dt
}

// Now returns the current world time in game-seconds.
func (c *WorldClock) Now() float64 { return c.now }

// TimeScale returns game-seconds per real second.
func (c *WorldClock) TimeScale() float64 { return c.timeScale }

// DayTime returns the time of day in game-seconds within the current day.
func (c *WorldClock) DayTime() float64 {
	d := c.now
	for d >= GameDay {
		d -= GameDay
	}
	return d
}

// Day returns the zero-based day number.
func (c *WorldClock) Day() int {
	return int(c.now / GameDay)
}
