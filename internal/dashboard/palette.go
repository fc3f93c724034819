package dashboard

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// palette maps the color names accepted in config to RGB values. Names
// follow the X11 color database; lipgloss downsamples to whatever the
// terminal supports.
var palette = map[string]lipgloss.Color{
	"black":        "#000000",
	"white":        "#ffffff",
	"gray":         "#bebebe",
	"red":          "#ff0000",
	"green":        "#00ff00",
	"blue":         "#0000ff",
	"yellow":       "#ffff00",
	"cyan":         "#00ffff",
	"magenta":      "#ff00ff",
	"orange":       "#ffa500",
	"purple":       "#a020f0",
	"coral":        "#ff7f50",
	"gold":         "#ffd700",
	"gold4":        "#8b7500",
	"khaki":        "#f0e68c",
	"orchid":       "#da70d6",
	"salmon":       "#fa8072",
	"salmon1":      "#ff8c69",
	"tomato":       "#ff6347",
	"violet":       "#ee82ee",
	"hotpink":      "#ff69b4",
	"seagreen":     "#2e8b57",
	"steelblue":    "#4682b4",
	"turquoise":    "#40e0d0",
	"limegreen":    "#32cd32",
	"darkgreen":    "#006400",
	"dodgerblue":   "#1e90ff",
	"deepskyblue":  "#00bfff",
	"deepskyblue3": "#009acd",
	"deepskyblue4": "#00688b",
	"firebrick1":   "#ff3030",
	"firebrick3":   "#cd2626",
	"darkorange3":  "#cd6600",
	"webpurple":    "#800080",
}

// fallbackColor is used for names missing from the palette.
const fallbackColor = lipgloss.Color("#ffffff")

// Color resolves a configured color. Hex triplets ("ff8800" or "#ff8800")
// pass through; names are looked up case-insensitively.
func Color(name string) lipgloss.Color {
	name = strings.ToLower(strings.TrimSpace(name))
	if hex, ok := hexColor(name); ok {
		return hex
	}
	if c, ok := palette[name]; ok {
		return c
	}
	return fallbackColor
}

// KnownColor reports whether Color resolves name without falling back.
func KnownColor(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := hexColor(name); ok {
		return true
	}
	_, ok := palette[name]
	return ok
}

func hexColor(s string) (lipgloss.Color, bool) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return "", false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return "", false
		}
	}
	return lipgloss.Color("#" + s), true
}
