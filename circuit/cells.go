package circuit

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CellKind identifies one cell of the fixed library.
type CellKind int

const (
	CellBuf CellKind = iota
	CellNot
	CellAnd
	CellNand
	CellOr
	CellNor
	CellXor
	CellXnor
	CellMux
	CellDFF
)

var cellNames = []string{"BUF", "NOT", "AND", "NAND", "OR", "NOR", "XOR", "XNOR", "MUX", "DFF"}

// Name returns the canonical upper-case cell name.
func (k CellKind) Name() string {
	if int(k) < len(cellNames) {
		return cellNames[k]
	}
	return "?"
}

var cellCaser = cases.Upper(language.English)

// ParseCellKind resolves a cell-type name case-insensitively.
func ParseCellKind(name string) (CellKind, error) {
	up := cellCaser.String(name)
	for k, n := range cellNames {
		if n == up {
			return CellKind(k), nil
		}
	}
	return 0, &UnsupportedCellError{Cell: name}
}

// Cell port conventions. Single-output cells drive Y, except DFF which
// drives Q from D on the rising edge of C. MUX selects A when S=0, B when
// S=1.
const (
	PortA = "A"
	PortB = "B"
	PortS = "S"
	PortY = "Y"
	PortD = "D"
	PortC = "C"
	PortQ = "Q"
)

// Inputs returns the input port names of the cell.
func (k CellKind) Inputs() []string {
	switch k {
	case CellBuf, CellNot:
		return []string{PortA}
	case CellMux:
		return []string{PortA, PortB, PortS}
	case CellDFF:
		return []string{PortC, PortD}
	default:
		return []string{PortA, PortB}
	}
}

// Output returns the output port name of the cell.
func (k CellKind) Output() string {
	if k == CellDFF {
		return PortQ
	}
	return PortY
}

// Combinational reports whether the cell's output follows its inputs within
// the same cycle. The DFF is the only sequential cell.
func (k CellKind) Combinational() bool {
	return k != CellDFF
}
