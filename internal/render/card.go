// Package render draws the leaderboard as a shareable PNG card.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/cheese-scoreboard/internal/msgcat"
	"github.com/park285/cheese-scoreboard/pkg/scoredto"
)

const (
	DefaultRows = 10
	MaxRows     = 20

	cardWidth  = 420
	iconSize   = 40
	padding    = 16
	headerH    = 64
	rowHeight  = 22
	footerH    = 12
	nameMaxPx  = 200
	panelInset = 8
)

//go:embed assets/stopwatch.svg
var assetFiles embed.FS

var (
	backgroundColor = color.RGBA{R: 0x14, G: 0x17, B: 0x20, A: 0xff}
	panelColor      = color.RGBA{R: 0x1f, G: 0x24, B: 0x30, A: 0xff}
	stripeColor     = color.RGBA{R: 0x26, G: 0x2c, B: 0x3a, A: 0xff}
	titleColor      = color.RGBA{R: 0xf2, G: 0xc9, B: 0x4c, A: 0xff}
	textColor       = color.RGBA{R: 0xe6, G: 0xe8, B: 0xee, A: 0xff}
	mutedColor      = color.RGBA{R: 0x8a, G: 0x93, B: 0xa6, A: 0xff}
)

var (
	iconOnce sync.Once
	iconImg  image.Image
	iconErr  error
)

// Renderer turns leaderboard rows into PNG bytes. Labels come from the message catalog.
type Renderer struct {
	cat *msgcat.Catalog
}

func New(cat *msgcat.Catalog) *Renderer { return &Renderer{cat: cat} }

// ClampRows maps a requested row count onto [1, MaxRows], defaulting non-positive values.
func ClampRows(n int) int {
	if n <= 0 {
		return DefaultRows
	}
	if n > MaxRows {
		return MaxRows
	}
	return n
}

func (r *Renderer) PNG(rows []scoredto.LeaderboardRow) ([]byte, error) {
	if len(rows) > MaxRows {
		rows = rows[:MaxRows]
	}
	lines := len(rows)
	if lines == 0 {
		lines = 1
	}
	height := headerH + lines*rowHeight + footerH + padding

	img := image.NewRGBA(image.Rect(0, 0, cardWidth, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)
	panel := image.Rect(panelInset, panelInset, cardWidth-panelInset, height-panelInset)
	draw.Draw(img, panel, image.NewUniform(panelColor), image.Point{}, draw.Src)

	icon, err := stopwatchIcon()
	if err != nil {
		return nil, err
	}
	iconAt := image.Rect(padding, (headerH-iconSize)/2+panelInset/2, padding+iconSize, (headerH-iconSize)/2+panelInset/2+iconSize)
	draw.Draw(img, iconAt, icon, image.Point{}, draw.Over)

	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	title := r.cat.Text("card.title", map[string]any{"Count": len(rows)}, fmt.Sprintf("TOP %d TIME TRIAL", len(rows)))
	drawText(drawer, title, padding+iconSize+12, headerH/2+8, titleColor)

	top := headerH
	if len(rows) == 0 {
		drawText(drawer, r.cat.Text("card.empty", nil, "No scores yet"), padding, top+rowHeight-6, mutedColor)
	}
	for i, row := range rows {
		y := top + i*rowHeight
		if i%2 == 1 {
			draw.Draw(img, image.Rect(panelInset, y, cardWidth-panelInset, y+rowHeight), image.NewUniform(stripeColor), image.Point{}, draw.Src)
		}
		name := truncateWithEllipsis(drawer.Face, row.PlayerName, nameMaxPx)
		line := r.cat.Text("card.row", map[string]any{
			"Rank":   row.Rank,
			"Name":   name,
			"Time":   FormatDuration(row.FinalTime),
			"Misses": row.MissCount,
		}, fmt.Sprintf("%d. %s  %s  x%d", row.Rank, name, FormatDuration(row.FinalTime), row.MissCount))
		clr := textColor
		if row.Rank == 1 {
			clr = titleColor
		}
		drawText(drawer, line, padding, y+rowHeight-7, clr)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatDuration renders milliseconds as m:ss.mmm.
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}

func drawText(d *font.Drawer, text string, x, baseline int, clr color.Color) {
	d.Src = image.NewUniform(clr)
	d.Dot = fixed.P(x, baseline)
	d.DrawString(text)
}

func truncateWithEllipsis(face font.Face, text string, maxWidth int) string {
	d := font.Drawer{Face: face}
	if d.MeasureString(text).Ceil() <= maxWidth {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + "..."
		if d.MeasureString(candidate).Ceil() <= maxWidth {
			return candidate
		}
	}
	return "..."
}

func stopwatchIcon() (image.Image, error) {
	iconOnce.Do(func() {
		data, err := assetFiles.ReadFile("assets/stopwatch.svg")
		if err != nil {
			iconErr = fmt.Errorf("read icon asset: %w", err)
			return
		}
		icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
		if err != nil {
			iconErr = fmt.Errorf("parse icon svg: %w", err)
			return
		}
		icon.SetTarget(0, 0, float64(iconSize), float64(iconSize))

		rgba := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
		draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
		scanner := rasterx.NewScannerGV(iconSize, iconSize, rgba, rgba.Bounds())
		raster := rasterx.NewDasher(iconSize, iconSize, scanner)
		icon.Draw(raster, 1.0)
		iconImg = rgba
	})
	return iconImg, iconErr
}
