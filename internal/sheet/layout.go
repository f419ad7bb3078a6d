// Package sheet tiles finished photos onto a printable canvas.
package sheet

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/photoid/internal/domain"
)

var paper = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// ComputeGrid finds the arrangement holding the most cells of size cell on
// the sheet. Cells may shrink uniformly down to preset.MinCellScale when that
// lets an extra row or column fit inside the margins.
func ComputeGrid(cell image.Point, preset domain.SheetPreset) (domain.SheetLayout, error) {
	if err := preset.Validate(); err != nil {
		return domain.SheetLayout{}, err
	}
	if cell.X <= 0 || cell.Y <= 0 {
		return domain.SheetLayout{}, fmt.Errorf("invalid cell size %dx%d", cell.X, cell.Y)
	}

	availW := preset.Width - 2*preset.Margin
	availH := preset.Height - 2*preset.Margin

	strictCols := fitCount(availW, cell.X, preset.Gutter)
	strictRows := fitCount(availH, cell.Y, preset.Gutter)
	best := grid{cols: strictCols, rows: strictRows, scale: 1}

	if preset.MinCellScale > 0 {
		bleedCols := max(strictCols, preset.Width/cell.X)
		bleedRows := max(strictRows, preset.Height/cell.Y)
		for _, g := range []grid{
			{cols: bleedCols, rows: bleedRows},
			{cols: bleedCols, rows: strictRows},
			{cols: strictCols, rows: bleedRows},
		} {
			if g.cols == 0 || g.rows == 0 {
				continue
			}
			g.scale = math.Min(
				shrinkFor(availW, cell.X, preset.Gutter, g.cols),
				shrinkFor(availH, cell.Y, preset.Gutter, g.rows),
			)
			if g.scale < preset.MinCellScale {
				continue
			}
			if g.capacity() > best.capacity() || (g.capacity() == best.capacity() && g.scale > best.scale) {
				best = g
			}
		}
	}

	if best.capacity() == 0 {
		return domain.SheetLayout{}, fmt.Errorf(
			"%w: %dx%d photo does not fit sheet %s", domain.ErrTooManyCopies, cell.X, cell.Y, preset.Name,
		)
	}

	cellW, cellH := cell.X, cell.Y
	if best.scale < 1 {
		cellW = int(math.Floor(float64(cell.X)*best.scale + 1e-9))
		cellH = int(math.Floor(float64(cell.Y)*best.scale + 1e-9))
	}

	layout := domain.SheetLayout{
		Columns:    best.cols,
		Rows:       best.rows,
		CellWidth:  cellW,
		CellHeight: cellH,
		Cells:      make([]image.Rectangle, 0, best.capacity()),
	}
	for r := 0; r < best.rows; r++ {
		for c := 0; c < best.cols; c++ {
			x := preset.Margin + c*(cellW+preset.Gutter)
			y := preset.Margin + r*(cellH+preset.Gutter)
			layout.Cells = append(layout.Cells, image.Rect(x, y, x+cellW, y+cellH))
		}
	}
	return layout, nil
}

// Layout pastes copies of photo row-major onto a white sheet. copies == 0
// fills every cell.
func Layout(photo image.Image, copies int, preset domain.SheetPreset) (*image.RGBA, domain.SheetLayout, error) {
	if photo == nil {
		return nil, domain.SheetLayout{}, fmt.Errorf("sheet layout requires a photo")
	}
	if copies < 0 {
		return nil, domain.SheetLayout{}, fmt.Errorf("copies must not be negative, got %d", copies)
	}

	layout, err := ComputeGrid(photo.Bounds().Size(), preset)
	if err != nil {
		return nil, domain.SheetLayout{}, err
	}
	if copies > layout.Capacity() {
		return nil, domain.SheetLayout{}, fmt.Errorf(
			"%w: %d requested, sheet %s holds %d (%dx%d)",
			domain.ErrTooManyCopies, copies, preset.Name, layout.Capacity(), layout.Columns, layout.Rows,
		)
	}
	if copies == 0 {
		copies = layout.Capacity()
	}

	tile := photo
	if layout.CellWidth != photo.Bounds().Dx() || layout.CellHeight != photo.Bounds().Dy() {
		tile = imaging.Resize(photo, layout.CellWidth, layout.CellHeight, imaging.Lanczos)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, preset.Width, preset.Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(paper), image.Point{}, draw.Src)
	for _, cell := range layout.Cells[:copies] {
		draw.Draw(canvas, cell, tile, tile.Bounds().Min, draw.Over)
	}
	return canvas, layout, nil
}

type grid struct {
	cols, rows int
	scale      float64
}

func (g grid) capacity() int {
	return g.cols * g.rows
}

// fitCount is how many cells of size cell fit in avail with gutter between
// neighbours.
func fitCount(avail, cell, gutter int) int {
	if avail < cell {
		return 0
	}
	return (avail + gutter) / (cell + gutter)
}

func shrinkFor(avail, cell, gutter, n int) float64 {
	room := float64(avail-(n-1)*gutter) / float64(n*cell)
	return math.Min(1, room)
}
