package common

import "errors"

// TileBounds is the column and row extent of a tile set
type TileBounds struct {
	MinCol int
	MaxCol int
	MinRow int
	MaxRow int
}

// Cols returns the number of columns in the bounds
func (tb TileBounds) Cols() int {
	return tb.MaxCol - tb.MinCol + 1
}

// Rows returns the number of rows in the bounds
func (tb TileBounds) Rows() int {
	return tb.MaxRow - tb.MinRow + 1
}

// Offset returns the pixel position of a tile inside a mosaic of tileSize tiles
func (tb TileBounds) Offset(col, row, tileSize int) (int, int) {
	return (col - tb.MinCol) * tileSize, (row - tb.MinRow) * tileSize
}

// Tile is anything addressed by column and row
type Tile interface {
	GetRow() int
	GetColumn() int
}

// CalculateTileBounds returns the smallest bounds containing every tile
func CalculateTileBounds[T Tile](tiles []T) (TileBounds, error) {
	if len(tiles) == 0 {
		return TileBounds{}, errors.New("no tiles provided")
	}

	bounds := TileBounds{
		MinCol: tiles[0].GetColumn(),
		MaxCol: tiles[0].GetColumn(),
		MinRow: tiles[0].GetRow(),
		MaxRow: tiles[0].GetRow(),
	}
	for _, tile := range tiles[1:] {
		bounds.MinCol = min(bounds.MinCol, tile.GetColumn())
		bounds.MaxCol = max(bounds.MaxCol, tile.GetColumn())
		bounds.MinRow = min(bounds.MinRow, tile.GetRow())
		bounds.MaxRow = max(bounds.MaxRow, tile.GetRow())
	}
	return bounds, nil
}
