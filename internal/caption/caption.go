package caption

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"strings"
	"unicode"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/unicode/norm"

	"github.com/ivlev/storyreel/internal/errs"
)

// Style is the fixed caption look applied to every scene.
type Style struct {
	FontSize float64
	// HorizontalMargin is kept clear on each side of the frame.
	HorizontalMargin int
	// BottomOffset is the distance from the bottom edge to the top of the caption box.
	BottomOffset int
	StrokeWidth  float64
	Fill         color.Color
	Stroke       color.Color
}

func DefaultStyle() Style {
	return Style{
		FontSize:         36,
		HorizontalMargin: 40,
		BottomOffset:     200,
		StrokeWidth:      1.5,
		Fill:             color.White,
		Stroke:           color.Black,
	}
}

// minBottomGap keeps tall captions off the bottom edge.
const minBottomGap = 20

// Renderer rasterizes captions. It is safe for concurrent use.
type Renderer struct {
	font  *sfnt.Font
	style Style
	pool  *imagePool
}

// NewRenderer loads the font at fontPath, or the embedded Go Regular face when empty.
func NewRenderer(fontPath string, style Style) (*Renderer, error) {
	data := goregular.TTF
	if strings.TrimSpace(fontPath) != "" {
		b, err := os.ReadFile(fontPath)
		if err != nil {
			return nil, fmt.Errorf("read caption font: %w", err)
		}
		data = b
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse caption font: %w", err)
	}
	if style.FontSize <= 0 {
		return nil, fmt.Errorf("caption font size %v must be positive", style.FontSize)
	}
	if style.Fill == nil {
		style.Fill = color.White
	}
	if style.Stroke == nil {
		style.Stroke = color.Black
	}
	return &Renderer{font: f, style: style, pool: newImagePool()}, nil
}

// Caption is a rendered caption and where it goes on the frame.
type Caption struct {
	Image *image.RGBA
	X, Y  int
	Lines []string
	pool  *imagePool
}

// Release returns the canvas to the renderer's pool. The caption is unusable afterwards.
func (c *Caption) Release() {
	if c == nil || c.Image == nil {
		return
	}
	c.pool.put(c.Image)
	c.Image = nil
}

// WritePNG encodes the caption canvas to path.
func (c *Caption) WritePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, c.Image); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Render lays out text for a frame of the given size. Errors match errs.ErrCaptionRenderFailed.
func (r *Renderer) Render(text string, frameWidth, frameHeight int) (*Caption, error) {
	fail := func(detail string, err error) (*Caption, error) {
		return nil, errs.Wrap(errs.ErrCaptionRenderFailed, "", "assemble", detail, err)
	}

	text = norm.NFC.String(strings.TrimSpace(text))
	if text == "" {
		return fail("empty caption text", nil)
	}
	boxWidth := frameWidth - 2*r.style.HorizontalMargin
	if boxWidth <= 0 {
		return fail(fmt.Sprintf("frame width %d leaves no room for caption", frameWidth), nil)
	}
	if err := r.checkCoverage(text); err != nil {
		return fail("", err)
	}

	face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    r.style.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return fail("create font face", err)
	}
	defer face.Close()

	pad := int(math.Ceil(r.style.StrokeWidth))
	lines := wrap(text, boxWidth-2*pad, func(s string) int {
		return font.MeasureString(face, s).Ceil()
	})

	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	ascent := metrics.Ascent.Ceil()
	boxHeight := len(lines)*lineHeight + 2*pad
	if boxHeight > frameHeight {
		return fail(fmt.Sprintf("caption of %d lines does not fit a %dpx frame", len(lines), frameHeight), nil)
	}

	canvas := r.pool.get(image.Rect(0, 0, boxWidth, boxHeight))
	stroke := image.NewUniform(r.style.Stroke)
	fill := image.NewUniform(r.style.Fill)
	offsets := strokeOffsets(r.style.StrokeWidth)

	for i, line := range lines {
		width := font.MeasureString(face, line).Ceil()
		x := (boxWidth - width) / 2
		y := pad + ascent + i*lineHeight
		for _, o := range offsets {
			d := font.Drawer{Dst: canvas, Src: stroke, Face: face, Dot: fixed.P(x+o.X, y+o.Y)}
			d.DrawString(line)
		}
		d := font.Drawer{Dst: canvas, Src: fill, Face: face, Dot: fixed.P(x, y)}
		d.DrawString(line)
	}

	return &Caption{
		Image: canvas,
		X:     (frameWidth - boxWidth) / 2,
		Y:     placeY(frameHeight, boxHeight, r.style.BottomOffset),
		Lines: lines,
		pool:  r.pool,
	}, nil
}

// checkCoverage fails on any visible rune the font has no glyph for.
func (r *Renderer) checkCoverage(text string) error {
	var buf sfnt.Buffer
	for _, ch := range text {
		if unicode.IsSpace(ch) || !unicode.IsPrint(ch) {
			continue
		}
		idx, err := r.font.GlyphIndex(&buf, ch)
		if err != nil {
			return fmt.Errorf("glyph lookup %q: %w", ch, err)
		}
		if idx == 0 {
			return fmt.Errorf("font has no glyph for %q (U+%04X)", ch, ch)
		}
	}
	return nil
}

func placeY(frameHeight, boxHeight, bottomOffset int) int {
	y := frameHeight - bottomOffset
	if y+boxHeight > frameHeight-minBottomGap {
		y = frameHeight - minBottomGap - boxHeight
	}
	if y < 0 {
		y = 0
	}
	return y
}

// strokeOffsets returns the pixel offsets of a disc outline around the glyphs.
func strokeOffsets(width float64) []image.Point {
	if width <= 0 {
		return nil
	}
	radius := int(math.Ceil(width))
	var pts []image.Point
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if dx*dx+dy*dy <= radius*radius {
				pts = append(pts, image.Point{X: dx, Y: dy})
			}
		}
	}
	return pts
}

// wrap breaks text into lines no wider than maxWidth. Explicit newlines are kept.
// Words wider than a line, and scripts written without spaces, break between runes.
func wrap(text string, maxWidth int, measure func(string) int) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		line := ""
		for _, word := range words {
			candidate := word
			if line != "" {
				candidate = line + " " + word
			}
			if measure(candidate) <= maxWidth {
				line = candidate
				continue
			}
			if line != "" {
				lines = append(lines, line)
				line = ""
			}
			if measure(word) <= maxWidth {
				line = word
				continue
			}
			for _, ch := range word {
				next := line + string(ch)
				if line != "" && measure(next) > maxWidth {
					lines = append(lines, line)
					next = string(ch)
				}
				line = next
			}
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
