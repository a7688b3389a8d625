package tttdto

// AIMoveRequest asks the server engine for a move on a local board.
type AIMoveRequest struct {
	Board          []Cell `json:"board"`
	AISymbol       string `json:"aiSymbol"`
	OpponentSymbol string `json:"opponentSymbol"`
	BoardSize      int    `json:"boardSize"`
	Difficulty     string `json:"difficulty"`
}

// AIMoveResponse has a nil Position when the board is full.
type AIMoveResponse struct {
	Position *int `json:"position"`
}
