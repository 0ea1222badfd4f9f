package watch

import (
	"strings"
	"time"
)

// Pulse lights up when invocation events arrive and fades over pulseWindow.
type Pulse struct {
	lit       int
	lastEvent time.Time
}

const (
	pulseDots   = 5
	pulseWindow = 10 * time.Second
)

func (p *Pulse) OnEvent(now time.Time) {
	p.lit = pulseDots
	p.lastEvent = now
}

// Decay dims one dot per fifth of pulseWindow since the last event.
func (p *Pulse) Decay(now time.Time) {
	if p.lit == 0 {
		return
	}
	step := pulseWindow / pulseDots
	faded := int(now.Sub(p.lastEvent) / step)
	p.lit = max(pulseDots-faded, 0)
}

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := range pulseDots {
		if i < p.lit {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}

func (p Pulse) LastEvent() time.Time {
	return p.lastEvent
}
