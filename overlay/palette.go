package overlay

import (
	"image/color"
	"math/rand"
)

const (
	// DefaultPaletteClasses matches the COCO id space DETR predicts over
	DefaultPaletteClasses = 91
	DefaultPaletteSeed    = 42
)

// DefaultColor is used for class ids the palette does not know
var DefaultColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// Palette maps class ids to stable colours. It is immutable once built.
type Palette struct {
	colors []color.RGBA
}

// GeneratePalette draws one random RGB colour per class from a PRNG seeded
// with seed, so the same arguments always give the same palette.
func GeneratePalette(numClasses int, seed int64) Palette {
	if numClasses < 0 {
		numClasses = 0
	}
	rng := rand.New(rand.NewSource(seed))
	colors := make([]color.RGBA, numClasses)
	for i := range colors {
		colors[i] = color.RGBA{
			R: uint8(rng.Intn(256)),
			G: uint8(rng.Intn(256)),
			B: uint8(rng.Intn(256)),
			A: 255,
		}
	}
	return Palette{colors: colors}
}

// Lookup returns the colour for classID, or DefaultColor if it is out of range
func (p Palette) Lookup(classID int) color.RGBA {
	if classID < 0 || classID >= len(p.colors) {
		return DefaultColor
	}
	return p.colors[classID]
}

// Len returns the number of classes in the palette
func (p Palette) Len() int {
	return len(p.colors)
}
