package gui

import (
	"strings"

	"github.com/caffeinator/caffeinator/pkg/durations"
	"github.com/caffeinator/caffeinator/pkg/session"
)

// menubarGlyph stands in for an icon so the item stays visible when the
// countdown is empty.
const menubarGlyph = "☕"

// menubarTitle is the countdown shown next to the glyph: "h:mm", "Nm" or
// "∞" while active, empty otherwise.
func menubarTitle(st session.Status) string {
	if !st.IsActive {
		return ""
	}
	return durations.Countdown(st.RemainingSeconds)
}

func displayTitle(st session.Status) string {
	return strings.TrimSpace(menubarGlyph + " " + menubarTitle(st))
}

func statusLine(st session.Status) string {
	if !st.IsActive || st.Mode == nil {
		return "Inactive"
	}
	if st.RemainingSeconds == nil {
		return "Active: " + st.Mode.Label() + ", indefinitely"
	}
	return "Active: " + st.Mode.Label() + ", " + durations.Clock(*st.RemainingSeconds) + " left"
}
