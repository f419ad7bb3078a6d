package domain

import (
	"fmt"
	"image"
	"sort"
	"strings"
)

const (
	Sheet4x6     = "4x6in"
	Sheet5x7     = "5x7in"
	Sheet10x15   = "10x15cm"
	DefaultSheet = Sheet4x6
)

type SheetPreset struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	DPI    int    `json:"dpi"`
	Margin int    `json:"margin"`
	Gutter int    `json:"gutter"`
	// MinCellScale bounds how far cells may shrink to fit one more row or
	// column. 0 disables shrinking.
	MinCellScale float64 `json:"min_cell_scale,omitempty"`
}

func (s SheetPreset) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("sheet %q: width and height must be positive", s.Name)
	}
	if s.Margin < 0 || s.Gutter < 0 {
		return fmt.Errorf("sheet %q: margin and gutter must not be negative", s.Name)
	}
	if 2*s.Margin >= s.Width || 2*s.Margin >= s.Height {
		return fmt.Errorf("sheet %q: margins leave no printable area", s.Name)
	}
	if s.MinCellScale < 0 || s.MinCellScale > 1 {
		return fmt.Errorf("sheet %q: min_cell_scale must be in [0,1]", s.Name)
	}
	return nil
}

type SheetLayout struct {
	Columns    int               `json:"columns"`
	Rows       int               `json:"rows"`
	CellWidth  int               `json:"cell_width"`
	CellHeight int               `json:"cell_height"`
	Cells      []image.Rectangle `json:"cells"`
}

func (l SheetLayout) Capacity() int {
	return l.Columns * l.Rows
}

var sheetPresets = map[string]SheetPreset{
	Sheet4x6: {
		Name:         Sheet4x6,
		Width:        1800,
		Height:       1200,
		DPI:          defaultDPI,
		Margin:       20,
		Gutter:       10,
		MinCellScale: 0.9,
	},
	Sheet5x7: {
		Name:         Sheet5x7,
		Width:        2100,
		Height:       1500,
		DPI:          defaultDPI,
		Margin:       30,
		Gutter:       12,
		MinCellScale: 0.9,
	},
	Sheet10x15: {
		Name:         Sheet10x15,
		Width:        pixelsFromMM(150, defaultDPI),
		Height:       pixelsFromMM(100, defaultDPI),
		DPI:          defaultDPI,
		Margin:       pixelsFromMM(2, defaultDPI),
		Gutter:       pixelsFromMM(2, defaultDPI),
		MinCellScale: 0.9,
	},
}

func LookupSheet(name string) (SheetPreset, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultSheet
	}
	s, ok := sheetPresets[name]
	if !ok {
		return SheetPreset{}, fmt.Errorf("%w: sheet %q", ErrUnknownPreset, name)
	}
	return s, nil
}

func SheetPresets() []SheetPreset {
	out := make([]SheetPreset, 0, len(sheetPresets))
	for _, s := range sheetPresets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
