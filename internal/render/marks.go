package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/park285/Cheese-TicTacToe/internal/board"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

const (
	markXSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100">` +
		`<path d="M24 24 L76 76 M76 24 L24 76" fill="none" stroke="#e2564b" stroke-width="13" stroke-linecap="round"/></svg>`
	markOSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100">` +
		`<circle cx="50" cy="50" r="28" fill="none" stroke="#3b82f6" stroke-width="13"/></svg>`
)

type markKey struct {
	sym  board.Symbol
	size int
}

var (
	markCache   = map[markKey]image.Image{}
	markCacheMu sync.RWMutex
)

func markImage(sym board.Symbol, size int) (image.Image, error) {
	key := markKey{sym: sym, size: size}
	markCacheMu.RLock()
	if img, ok := markCache[key]; ok {
		markCacheMu.RUnlock()
		return img, nil
	}
	markCacheMu.RUnlock()

	var src string
	switch sym {
	case board.X:
		src = markXSVG
	case board.O:
		src = markOSVG
	default:
		return nil, fmt.Errorf("no mark for symbol %q", sym)
	}
	icon, err := oksvg.ReadIconStream(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse mark svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	markCacheMu.Lock()
	markCache[key] = img
	markCacheMu.Unlock()
	return img, nil
}
