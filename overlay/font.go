package overlay

import (
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var defaultFont *truetype.Font

// init sets up the font labels are measured and drawn with.
func init() {
	var err error
	defaultFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for labels.
func Font() *truetype.Font {
	return defaultFont
}
