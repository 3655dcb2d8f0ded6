package visualization

import (
	"fmt"
	"image/color"
	"math"
	"strings"
)

type colormap func(v float64) color.NRGBA

// viridisStops samples matplotlib's viridis at 0, 0.25, 0.5, 0.75 and 1
var viridisStops = [][3]float64{
	{68, 1, 84},
	{59, 82, 139},
	{33, 145, 140},
	{94, 201, 98},
	{253, 231, 37},
}

func lookupCmap(name string) (colormap, error) {
	switch strings.ToLower(name) {
	case "", "gray", "grey":
		return gray, nil
	case "gray_r", "grey_r":
		return func(v float64) color.NRGBA { return gray(1 - v) }, nil
	case "viridis":
		return viridis, nil
	}
	return nil, fmt.Errorf("unknown colour map %q", name)
}

func gray(v float64) color.NRGBA {
	g := toByte(v)
	return color.NRGBA{R: g, G: g, B: g, A: 255}
}

func viridis(v float64) color.NRGBA {
	v = math.Max(0, math.Min(1, v))
	pos := v * float64(len(viridisStops)-1)
	i := int(math.Floor(pos))
	if i >= len(viridisStops)-1 {
		i = len(viridisStops) - 2
	}
	f := pos - float64(i)
	lo, hi := viridisStops[i], viridisStops[i+1]
	ch := func(k int) uint8 {
		return uint8(math.Round(lo[k] + f*(hi[k]-lo[k])))
	}
	return color.NRGBA{R: ch(0), G: ch(1), B: ch(2), A: 255}
}
