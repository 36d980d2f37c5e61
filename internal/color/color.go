// Package color parses CSS color strings into the canonical hex form stored
// in portal configuration and derives the contrast and alpha variants the
// theme needs. Nothing here depends on a rendering environment.
package color

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Transparent is kept verbatim by Normalize.
const Transparent = "transparent"

// Contrast text colors returned by ReadableTextColor.
const (
	DarkText     = "#111827"
	LightText    = "#ffffff"
	FallbackText = "#1f2937"
)

// RGBA is a parsed color. A is in [0,1].
type RGBA struct {
	R, G, B uint8
	A       float64
}

// Parse accepts hex (#rgb, #rgba, #rrggbb, #rrggbbaa), rgb()/rgba(),
// hsl()/hsla(), the CSS named colors and "transparent".
func Parse(s string) (RGBA, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == "":
		return RGBA{}, false
	case v == Transparent:
		return RGBA{}, true
	case strings.HasPrefix(v, "#"):
		return parseHex(v[1:])
	case strings.HasSuffix(v, ")"):
		return parseFunc(v)
	}
	if n, ok := namedColors[v]; ok {
		return RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 1}, true
	}
	return RGBA{}, false
}

// Hex renders the color as #rrggbb, appending an alpha byte when it is not ff.
func (c RGBA) Hex() string {
	base := c.Solid()
	if c.A < 1 {
		if a := alphaByte(c.A); a != 0xff {
			return base + fmt.Sprintf("%02x", a)
		}
	}
	return base
}

// Solid renders the color as #rrggbb, ignoring alpha.
func (c RGBA) Solid() string {
	return colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.Hex()
}

// Normalize returns the canonical lowercase hex form of a color string.
// Blank input normalizes to "" and "transparent" is kept as is; both are
// valid. ok is false when the input is not a color.
func Normalize(s string) (string, bool) {
	v := strings.TrimSpace(s)
	if v == "" {
		return "", true
	}
	if strings.EqualFold(v, Transparent) {
		return Transparent, true
	}
	c, ok := Parse(v)
	if !ok {
		return "", false
	}
	return c.Hex(), true
}

// NormalizeMap normalizes every entry and drops the ones that are not colors.
func NormalizeMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if n, ok := Normalize(v); ok {
			out[k] = n
		}
	}
	return out
}

// ReadableTextColor picks dark or light text for the given background.
func ReadableTextColor(background string) string {
	c, ok := Parse(background)
	if !ok {
		return FallbackText
	}
	brightness := (float64(c.R)*299 + float64(c.G)*587 + float64(c.B)*114) / 1000
	if brightness > 155 {
		return DarkText
	}
	return LightText
}

// RGBComponents returns "r, g, b" for use in CSS custom properties.
func RGBComponents(s string) (string, bool) {
	c, ok := Parse(s)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%d, %d, %d", c.R, c.G, c.B), true
}

// CombineWithAlpha renders value as rgba() with the given alpha. Blank and
// transparent values pass through; unparseable values are returned trimmed.
func CombineWithAlpha(value string, alpha float64) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if strings.EqualFold(v, Transparent) {
		return Transparent
	}
	if math.IsNaN(alpha) {
		return v
	}
	rgb, ok := RGBComponents(v)
	if !ok {
		return v
	}
	a := clamp01(alpha)
	as := "1"
	if a != 1 {
		as = strings.TrimRight(strings.TrimRight(strconv.FormatFloat(a, 'f', 3, 64), "0"), ".")
	}
	return fmt.Sprintf("rgba(%s, %s)", rgb, as)
}

// NormalizeAlpha clamps an opacity into [0,1] and rounds it to 3 decimals.
func NormalizeAlpha(a float64) (float64, bool) {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0, false
	}
	return math.Round(clamp01(a)*1000) / 1000, true
}

func parseHex(h string) (RGBA, bool) {
	for _, r := range h {
		if !isHexDigit(r) {
			return RGBA{}, false
		}
	}
	switch len(h) {
	case 3, 4:
		c := RGBA{R: nibble(h[0]) * 17, G: nibble(h[1]) * 17, B: nibble(h[2]) * 17, A: 1}
		if len(h) == 4 {
			c.A = float64(nibble(h[3])*17) / 255
		}
		return c, true
	case 6, 8:
		c := RGBA{R: hexByte(h[0:2]), G: hexByte(h[2:4]), B: hexByte(h[4:6]), A: 1}
		if len(h) == 8 {
			c.A = float64(hexByte(h[6:8])) / 255
		}
		return c, true
	}
	return RGBA{}, false
}

func parseFunc(v string) (RGBA, bool) {
	open := strings.IndexByte(v, '(')
	if open <= 0 {
		return RGBA{}, false
	}
	name := strings.TrimSpace(v[:open])
	comps, alpha, ok := splitArgs(v[open+1 : len(v)-1])
	if !ok {
		return RGBA{}, false
	}

	c := RGBA{A: 1}
	if alpha != "" {
		a, ok := parseAlpha(alpha)
		if !ok {
			return RGBA{}, false
		}
		c.A = a
	}

	switch name {
	case "rgb", "rgba":
		var ch [3]uint8
		for i, s := range comps {
			n, ok := parseChannel(s)
			if !ok {
				return RGBA{}, false
			}
			ch[i] = n
		}
		c.R, c.G, c.B = ch[0], ch[1], ch[2]
	case "hsl", "hsla":
		h, err := strconv.ParseFloat(strings.TrimSuffix(comps[0], "deg"), 64)
		if err != nil || math.IsNaN(h) || math.IsInf(h, 0) {
			return RGBA{}, false
		}
		s, ok1 := parsePercent(comps[1])
		l, ok2 := parsePercent(comps[2])
		if !ok1 || !ok2 {
			return RGBA{}, false
		}
		h = math.Mod(h, 360)
		if h < 0 {
			h += 360
		}
		col := colorful.Hsl(h, s, l).Clamped()
		c.R, c.G, c.B = unit(col.R), unit(col.G), unit(col.B)
	default:
		return RGBA{}, false
	}
	return c, true
}

// splitArgs handles both "a, b, c[, d]" and "a b c[ / d]".
func splitArgs(args string) ([]string, string, bool) {
	if strings.Contains(args, ",") {
		parts := strings.Split(args, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch len(parts) {
		case 3:
			return parts, "", true
		case 4:
			return parts[:3], parts[3], true
		}
		return nil, "", false
	}

	alpha := ""
	if i := strings.IndexByte(args, '/'); i >= 0 {
		alpha = strings.TrimSpace(args[i+1:])
		args = args[:i]
		if alpha == "" {
			return nil, "", false
		}
	}
	parts := strings.Fields(args)
	if len(parts) != 3 {
		return nil, "", false
	}
	return parts, alpha, true
}

func parseChannel(s string) (uint8, bool) {
	if s == "" {
		return 0, false
	}
	pct := strings.HasSuffix(s, "%")
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if pct {
		f = f * 255 / 100
	}
	return uint8(math.Round(math.Min(255, math.Max(0, f)))), true
}

func parsePercent(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return clamp01(f / 100), true
}

func parseAlpha(s string) (float64, bool) {
	pct := strings.HasSuffix(s, "%")
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if pct {
		f /= 100
	}
	return clamp01(f), true
}

func alphaByte(a float64) uint8 {
	return uint8(math.Round(clamp01(a) * 255))
}

func unit(f float64) uint8 {
	return uint8(math.Round(clamp01(f) * 255))
}

func clamp01(f float64) float64 {
	return math.Min(1, math.Max(0, f))
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}

func nibble(b byte) uint8 {
	if b >= 'a' {
		return b - 'a' + 10
	}
	return b - '0'
}

func hexByte(s string) uint8 {
	return nibble(s[0])<<4 | nibble(s[1])
}
