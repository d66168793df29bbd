package pdf

import (
	"fmt"
	"math"
	"strings"

	ledpdf "github.com/ledongthuc/pdf"
)

// pageText decodes the glyphs shown on one page in content stream order.
func pageText(p ledpdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode page text: %v", r)
		}
	}()
	return layoutText(p.Content().Text), nil
}

// layoutText joins glyph runs into lines. A baseline shift of more than half
// the font size starts a new line; a horizontal gap wider than a quarter of
// the font size becomes a space.
func layoutText(glyphs []ledpdf.Text) string {
	var (
		b    strings.Builder
		prev *ledpdf.Text
	)
	for i := range glyphs {
		g := &glyphs[i]
		if g.S == "" {
			continue
		}
		if prev != nil {
			size := math.Max(math.Abs(prev.FontSize), 1)
			switch {
			case math.Abs(g.Y-prev.Y) > size/2:
				b.WriteByte('\n')
			case g.X-(prev.X+prev.W) > size/4 && !isSpace(prev.S) && !isSpace(g.S):
				b.WriteByte(' ')
			}
		}
		b.WriteString(g.S)
		prev = g
	}
	return b.String()
}

func isSpace(s string) bool {
	return strings.TrimSpace(s) == ""
}
