package board

import "sync"

// Result classifies a board position.
type Result int

const (
	None Result = iota
	Win
	Draw
)

func (r Result) String() string {
	switch r {
	case Win:
		return "win"
	case Draw:
		return "draw"
	default:
		return "none"
	}
}

// Outcome is the result of DetectOutcome. Winner and Line are set only for Win.
type Outcome struct {
	Result Result
	Winner Symbol
	Line   []int
}

func (o Outcome) Terminal() bool { return o.Result != None }

var lineCache sync.Map // size -> [][]int

// Lines returns the 2*size+2 winning index sets: rows, columns, main
// diagonal and anti-diagonal, in that order. The result is shared and must
// not be modified.
func Lines(size int) [][]int {
	if size <= 0 {
		return nil
	}
	if v, ok := lineCache.Load(size); ok {
		return v.([][]int)
	}
	lines := make([][]int, 0, 2*size+2)
	for r := 0; r < size; r++ {
		row := make([]int, size)
		for c := 0; c < size; c++ {
			row[c] = r*size + c
		}
		lines = append(lines, row)
	}
	for c := 0; c < size; c++ {
		col := make([]int, size)
		for r := 0; r < size; r++ {
			col[r] = r*size + c
		}
		lines = append(lines, col)
	}
	diag := make([]int, size)
	anti := make([]int, size)
	for i := 0; i < size; i++ {
		diag[i] = i*size + i
		anti[i] = i*size + (size - 1 - i)
	}
	lines = append(lines, diag, anti)
	actual, _ := lineCache.LoadOrStore(size, lines)
	return actual.([][]int)
}

// DetectOutcome reports a win when any line is fully one symbol, a draw
// when no line wins and no cell is empty, and None otherwise.
func DetectOutcome(b Board, size int) Outcome {
	if size <= 0 || len(b) != size*size {
		return Outcome{Result: None}
	}
	for _, line := range Lines(size) {
		first := b[line[0]]
		if first == Empty {
			continue
		}
		won := true
		for _, idx := range line[1:] {
			if b[idx] != first {
				won = false
				break
			}
		}
		if won {
			out := make([]int, len(line))
			copy(out, line)
			return Outcome{Result: Win, Winner: first, Line: out}
		}
	}
	if b.Full() {
		return Outcome{Result: Draw}
	}
	return Outcome{Result: None}
}
