// Package adaptation implements the quality-level decision engine for
// adaptive video streaming.
//
// A receiver feeds periodic metric snapshots into an Engine, which walks
// a totally ordered ladder of quality levels one step at a time. The
// engine reacts quickly to degradation, recovers conservatively, and
// enforces a cooldown between consecutive changes to prevent
// oscillation. Throughput requirements scale with the current level: a
// level near the top of the ladder needs far more headroom to be judged
// "good" than one near the bottom.
package adaptation

import "fmt"

// Level is an ordered quality tier combining resolution and bitrate.
// Higher values mean higher quality.
type Level int

const (
	// Level240p is the lowest quality tier (426x240).
	Level240p Level = iota
	// Level360p is the 640x360 tier.
	Level360p
	// Level480p is the 854x480 tier.
	Level480p
	// Level720p is the 1280x720 tier.
	Level720p
	// Level1080p is the highest quality tier (1920x1080).
	Level1080p
)

// MinLevel and MaxLevel bound the quality ladder.
const (
	MinLevel = Level240p
	MaxLevel = Level1080p
)

// String returns the wire representation of the level.
func (l Level) String() string {
	switch l {
	case Level240p:
		return "240p"
	case Level360p:
		return "360p"
	case Level480p:
		return "480p"
	case Level720p:
		return "720p"
	case Level1080p:
		return "1080p"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// ParseLevel converts a wire representation back to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "240p":
		return Level240p, nil
	case "360p":
		return Level360p, nil
	case "480p":
		return Level480p, nil
	case "720p":
		return Level720p, nil
	case "1080p":
		return Level1080p, nil
	default:
		return MinLevel, fmt.Errorf("unknown quality level %q", s)
	}
}

// Levels returns every defined level in ascending order.
func Levels() []Level {
	return []Level{Level240p, Level360p, Level480p, Level720p, Level1080p}
}

// Up returns the next level up, clamped at the highest tier.
func (l Level) Up() Level {
	if l >= MaxLevel {
		return MaxLevel
	}
	return l + 1
}

// Down returns the next level down, clamped at the lowest tier.
func (l Level) Down() Level {
	if l <= MinLevel {
		return MinLevel
	}
	return l - 1
}

// Valid reports whether l is a defined level.
func (l Level) Valid() bool {
	return l >= MinLevel && l <= MaxLevel
}

// Dimensions returns the frame width and height for the level.
func (l Level) Dimensions() (width, height int) {
	switch l {
	case Level240p:
		return 426, 240
	case Level360p:
		return 640, 360
	case Level480p:
		return 854, 480
	case Level720p:
		return 1280, 720
	case Level1080p:
		return 1920, 1080
	default:
		return 0, 0
	}
}

// EncodeSettings holds the per-level encode parameters used by
// collaborators that prepare frames for a level.
type EncodeSettings struct {
	Width   int
	Height  int
	Quality int // JPEG quality, 1-100
}

// Encoding returns the encode settings for the level.
func (l Level) Encoding() EncodeSettings {
	w, h := l.Dimensions()
	quality := 0
	switch l {
	case Level240p:
		quality = 60
	case Level360p:
		quality = 65
	case Level480p:
		quality = 70
	case Level720p:
		quality = 75
	case Level1080p:
		quality = 85
	}
	return EncodeSettings{Width: w, Height: h, Quality: quality}
}

// ThresholdPair holds the throughput bounds for one level, in bytes per
// second. Below Low the level is unsustainable; above High the network
// has headroom for the next level up. Low is always less than High.
type ThresholdPair struct {
	Low  float64
	High float64
}

// DefaultThresholds returns the per-level throughput threshold table.
//
// The values scale with the level: 240p survives on 80 KB/s while 1080p
// demands 600 KB/s, and the upgrade bar rises accordingly.
func DefaultThresholds() map[Level]ThresholdPair {
	return map[Level]ThresholdPair{
		Level240p:  {Low: 80_000, High: 150_000},
		Level360p:  {Low: 120_000, High: 250_000},
		Level480p:  {Low: 200_000, High: 400_000},
		Level720p:  {Low: 350_000, High: 750_000},
		Level1080p: {Low: 600_000, High: 1_500_000},
	}
}
