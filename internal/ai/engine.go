package ai

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/park285/Cheese-TicTacToe/internal/board"
)

// Difficulty selects the move strategy.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// ParseDifficulty accepts "easy", "medium" or "hard" in any case.
func ParseDifficulty(raw string) (Difficulty, error) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(raw))) {
	case Easy:
		return Easy, nil
	case Medium:
		return Medium, nil
	case Hard:
		return Hard, nil
	}
	return "", fmt.Errorf("unknown difficulty %q", raw)
}

// MediumSearchRatio is the probability that a Medium move uses the full search.
const MediumSearchRatio = 0.7

const (
	winScore = 10
	// unlimited depth for boards up to this side length
	solvableSize = 3
)

// DepthLimit returns the ply bound for the Hard search; 0 means unlimited.
func DepthLimit(size int) int {
	switch {
	case size <= solvableSize:
		return 0
	case size == 4:
		return 5
	default:
		return 4
	}
}

// Engine picks moves for a computer-controlled player. It is safe for
// concurrent use.
type Engine struct {
	randMu sync.Mutex
	rand   *rand.Rand
}

func NewEngine() *Engine {
	return &Engine{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// SetRandomSeed makes subsequent Easy and Medium choices reproducible.
func (e *Engine) SetRandomSeed(seed int64) {
	e.randMu.Lock()
	e.rand = rand.New(rand.NewSource(seed))
	e.randMu.Unlock()
}

func (e *Engine) intn(n int) int {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Intn(n)
}

func (e *Engine) float() float64 {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Float64()
}

// SelectMove returns a cell index for aiSym. The second result is false only
// when the board has no empty cell.
func (e *Engine) SelectMove(b board.Board, aiSym, oppSym board.Symbol, size int, d Difficulty) (int, bool) {
	empty := b.EmptyCells()
	if len(empty) == 0 {
		return -1, false
	}
	switch d {
	case Easy:
		return empty[e.intn(len(empty))], true
	case Medium:
		if e.float() < MediumSearchRatio {
			return BestMove(b, aiSym, oppSym, size), true
		}
		return empty[e.intn(len(empty))], true
	default:
		return BestMove(b, aiSym, oppSym, size), true
	}
}

// BestMove runs the depth-bounded minimax for aiSym. The board is not
// modified. It returns -1 on a full board.
func BestMove(b board.Board, aiSym, oppSym board.Symbol, size int) int {
	s := &search{
		cells: b.Clone(),
		size:  size,
		ai:    aiSym,
		opp:   oppSym,
		limit: DepthLimit(size),
	}
	best, bestScore := -1, math.MinInt
	alpha, beta := math.MinInt, math.MaxInt
	for i, c := range s.cells {
		if c != board.Empty {
			continue
		}
		score := s.try(i, aiSym, 1, false, alpha, beta)
		if score > bestScore {
			best, bestScore = i, score
		}
		if bestScore > alpha {
			alpha = bestScore
		}
	}
	return best
}

type search struct {
	cells board.Board
	size  int
	ai    board.Symbol
	opp   board.Symbol
	limit int
}

// try places sym at i, scores the resulting position and undoes the placement.
func (s *search) try(i int, sym board.Symbol, depth int, maximizing bool, alpha, beta int) int {
	s.cells[i] = sym
	score := s.minimax(depth, maximizing, alpha, beta)
	s.cells[i] = board.Empty
	return score
}

func (s *search) minimax(depth int, maximizing bool, alpha, beta int) int {
	out := board.DetectOutcome(s.cells, s.size)
	switch out.Result {
	case board.Win:
		if out.Winner == s.ai {
			return winScore - depth
		}
		return depth - winScore
	case board.Draw:
		return 0
	}
	if s.limit > 0 && depth >= s.limit {
		return 0
	}

	if maximizing {
		best := math.MinInt
		for i, c := range s.cells {
			if c != board.Empty {
				continue
			}
			if v := s.try(i, s.ai, depth+1, false, alpha, beta); v > best {
				best = v
			}
			if best > alpha {
				alpha = best
			}
			if alpha >= beta {
				break
			}
		}
		return best
	}
	best := math.MaxInt
	for i, c := range s.cells {
		if c != board.Empty {
			continue
		}
		if v := s.try(i, s.opp, depth+1, true, alpha, beta); v < best {
			best = v
		}
		if best < beta {
			beta = best
		}
		if alpha >= beta {
			break
		}
	}
	return best
}
