package board

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Symbol is the mark a player places on a cell.
type Symbol string

const (
	Empty Symbol = ""
	X     Symbol = "X"
	O     Symbol = "O"
)

const (
	MinSize = 3
	MaxSize = 10
)

// Opponent returns the complementary symbol. Empty maps to Empty.
func (s Symbol) Opponent() Symbol {
	switch s {
	case X:
		return O
	case O:
		return X
	default:
		return Empty
	}
}

func (s Symbol) Valid() bool { return s == X || s == O }

// ParseSymbol accepts "x"/"o" in any case.
func ParseSymbol(raw string) (Symbol, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "X":
		return X, true
	case "O":
		return O, true
	default:
		return Empty, false
	}
}

// MarshalJSON encodes an empty cell as null.
func (s Symbol) MarshalJSON() ([]byte, error) {
	if s == Empty {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *Symbol) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*s = Empty
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == "" {
		*s = Empty
		return nil
	}
	sym, ok := ParseSymbol(raw)
	if !ok {
		return fmt.Errorf("invalid symbol %q", raw)
	}
	*s = sym
	return nil
}

// Board is a flattened size×size grid in row-major order.
type Board []Symbol

// New returns an empty board with size*size cells.
func New(size int) (Board, error) {
	if size < MinSize || size > MaxSize {
		return nil, fmt.Errorf("board size %d out of range [%d,%d]", size, MinSize, MaxSize)
	}
	return make(Board, size*size), nil
}

// Side returns the side length when the cell count is a perfect square.
func (b Board) Side() (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	n := int(math.Sqrt(float64(len(b))))
	for n*n < len(b) {
		n++
	}
	for n*n > len(b) {
		n--
	}
	return n, n*n == len(b)
}

func (b Board) Clone() Board {
	if b == nil {
		return nil
	}
	out := make(Board, len(b))
	copy(out, b)
	return out
}

func (b Board) EmptyCells() []int {
	cells := make([]int, 0, len(b))
	for i, c := range b {
		if c == Empty {
			cells = append(cells, i)
		}
	}
	return cells
}

func (b Board) Full() bool {
	for _, c := range b {
		if c == Empty {
			return false
		}
	}
	return true
}

// InRange reports whether pos addresses a cell of b.
func (b Board) InRange(pos int) bool { return pos >= 0 && pos < len(b) }

// String renders the board as rows of X, O and '.'.
func (b Board) String() string {
	side, ok := b.Side()
	if !ok {
		return fmt.Sprintf("board(%d cells)", len(b))
	}
	var sb strings.Builder
	for i, c := range b {
		if i > 0 && i%side == 0 {
			sb.WriteByte('\n')
		}
		if c == Empty {
			sb.WriteByte('.')
		} else {
			sb.WriteString(string(c))
		}
	}
	return sb.String()
}
