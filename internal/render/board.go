package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strconv"
	"strings"

	"github.com/park285/Cheese-TicTacToe/internal/board"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

type Options struct {
	// WinningLine cells are tinted.
	WinningLine []int
	// LastMove, when set, is outlined.
	LastMove *int
	Header   string
	Footer   string
	// ShowIndices labels empty cells with their position.
	ShowIndices bool
}

const (
	boardPixels  = 480
	minCell      = 48
	maxCell      = 140
	sideMargin   = 24
	topMargin    = 64
	bottomMargin = 44
	cellGap      = 6
	panelRadius  = 10
)

var (
	backgroundColor = color.RGBA{R: 24, G: 27, B: 40, A: 255}
	cellColor       = color.RGBA{R: 240, G: 236, B: 226, A: 255}
	winColor        = color.NRGBA{R: 255, G: 214, B: 92, A: 170}
	lastMoveColor   = color.NRGBA{R: 120, G: 200, B: 255, A: 200}
	headerPanel     = color.NRGBA{R: 40, G: 44, B: 64, A: 250}
	textPrimary     = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	indexColor      = color.NRGBA{R: 150, G: 146, B: 138, A: 255}
)

func cellSize(side int) int {
	c := boardPixels / side
	if c < minCell {
		c = minCell
	}
	if c > maxCell {
		c = maxCell
	}
	return c
}

// RenderPNG draws b as a PNG.
func RenderPNG(ctx context.Context, b board.Board, opts Options) ([]byte, error) {
	side, ok := b.Side()
	if !ok {
		return nil, fmt.Errorf("render: board of %d cells is not a supported square", len(b))
	}
	cell := cellSize(side)
	grid := side * cell
	width := grid + sideMargin*2
	height := grid + topMargin + bottomMargin
	origin := image.Point{X: sideMargin, Y: topMargin}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	header := strings.TrimSpace(opts.Header)
	if header != "" {
		panel := image.Rect(sideMargin, 14, width-sideMargin, topMargin-14)
		drawRoundedPanel(img, panel, panelRadius, headerPanel)
		drawCenteredString(drawer, panel, header, textPrimary)
	}

	win := make(map[int]bool, len(opts.WinningLine))
	for _, i := range opts.WinningLine {
		win[i] = true
	}
	for i, sym := range b {
		r := cellRect(i, side, cell, origin)
		drawRoundedPanel(img, r, panelRadius/2, cellColor)
		if win[i] {
			drawRoundedPanel(img, r, panelRadius/2, winColor)
		}
		if opts.LastMove != nil && i == *opts.LastMove && !win[i] {
			drawOutline(img, r, 3, lastMoveColor)
		}
		if sym == board.Empty {
			if opts.ShowIndices {
				drawCenteredString(drawer, r, strconv.Itoa(i), indexColor)
			}
			continue
		}
		mark, err := markImage(sym, r.Dx())
		if err != nil {
			return nil, err
		}
		imagedraw.Draw(img, r, mark, image.Point{}, imagedraw.Over)
	}

	if footer := strings.TrimSpace(opts.Footer); footer != "" {
		rect := image.Rect(0, topMargin+grid+8, width, height-8)
		drawCenteredString(drawer, rect, footer, textPrimary)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func cellRect(i, side, cell int, origin image.Point) image.Rectangle {
	row, col := i/side, i%side
	x := origin.X + col*cell
	y := origin.Y + row*cell
	return image.Rect(x+cellGap/2, y+cellGap/2, x+cell-cellGap/2, y+cell-cellGap/2)
}

func drawOutline(img *image.RGBA, r image.Rectangle, w int, clr color.Color) {
	src := image.NewUniform(clr)
	imagedraw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w), src, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y), src, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(r.Min.X, r.Min.Y+w, r.Min.X+w, r.Max.Y-w), src, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(r.Max.X-w, r.Min.Y+w, r.Max.X, r.Max.Y-w), src, image.Point{}, imagedraw.Over)
}

func drawRoundedPanel(img *image.RGBA, rect image.Rectangle, radius int, clr color.Color) {
	if img == nil || rect.Empty() {
		return
	}
	maxRadius := rect.Dx() / 2
	if r := rect.Dy() / 2; r < maxRadius {
		maxRadius = r
	}
	if radius > maxRadius {
		radius = maxRadius
	}
	fill := image.NewUniform(clr)
	if radius <= 0 {
		imagedraw.Draw(img, rect, fill, image.Point{}, imagedraw.Over)
		return
	}
	// Center column plus the two side strips; corners are discs.
	imagedraw.Draw(img, image.Rect(rect.Min.X+radius, rect.Min.Y, rect.Max.X-radius, rect.Max.Y), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y+radius, rect.Min.X+radius, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Max.X-radius, rect.Min.Y+radius, rect.Max.X, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	corners := []image.Point{
		{rect.Min.X + radius, rect.Min.Y + radius},
		{rect.Max.X - radius - 1, rect.Min.Y + radius},
		{rect.Min.X + radius, rect.Max.Y - radius - 1},
		{rect.Max.X - radius - 1, rect.Max.Y - radius - 1},
	}
	for _, c := range corners {
		drawQuarterDisc(img, c, radius, clr, rect)
	}
}

// drawQuarterDisc fills the part of a disc at center that lies in the
// corner square of rect not covered by the strips.
func drawQuarterDisc(img *image.RGBA, center image.Point, radius int, clr color.Color, rect image.Rectangle) {
	rr := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y > rr {
				continue
			}
			px, py := center.X+x, center.Y+y
			inStrip := (px >= rect.Min.X+radius && px < rect.Max.X-radius) || (py >= rect.Min.Y+radius && py < rect.Max.Y-radius)
			if inStrip || !(image.Point{X: px, Y: py}).In(rect) {
				continue
			}
			blendPixel(img, px, py, clr)
		}
	}
}

func drawCenteredString(drawer *font.Drawer, rect image.Rectangle, text string, clr color.Color) {
	text = strings.TrimSpace(text)
	if drawer == nil || text == "" {
		return
	}
	metrics := drawer.Face.Metrics()
	width := drawer.MeasureString(text).Round()
	x := rect.Min.X + (rect.Dx()-width)/2
	if x < rect.Min.X {
		x = rect.Min.X
	}
	baseline := rect.Min.Y + (rect.Dy()+metrics.Ascent.Ceil()-metrics.Descent.Ceil())/2
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}

func blendPixel(img *image.RGBA, x, y int, clr color.Color) {
	if !(image.Point{X: x, Y: y}).In(img.Bounds()) {
		return
	}
	sr, sg, sb, sa := clr.RGBA()
	if sa == 0 {
		return
	}
	d := img.RGBAAt(x, y)
	inv := 65535 - sa
	img.SetRGBA(x, y, color.RGBA{
		R: uint8((sr + uint32(d.R)*0x101*inv/65535) >> 8),
		G: uint8((sg + uint32(d.G)*0x101*inv/65535) >> 8),
		B: uint8((sb + uint32(d.B)*0x101*inv/65535) >> 8),
		A: uint8((sa + uint32(d.A)*0x101*inv/65535) >> 8),
	})
}
