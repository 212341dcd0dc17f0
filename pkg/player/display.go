package player

import (
	"fmt"
	"math"
	"time"
)

// FormatTime renders seconds as h:mm:ss.s, rounded to a tenth of a second
func FormatTime(seconds float64) string {
	d := time.Duration(math.Max(seconds, 0) * float64(time.Second)).Round(100 * time.Millisecond)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := float64(d%time.Minute) / float64(time.Second)
	return fmt.Sprintf("%d:%02d:%04.1f", h, m, s)
}

// PositionDisplay formats CurrentPosition for display
func (p *Player) PositionDisplay() string {
	return FormatTime(p.CurrentPosition())
}

// DurationDisplay formats Duration for display
func (p *Player) DurationDisplay() string {
	return FormatTime(p.Duration())
}
