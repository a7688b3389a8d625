package session

import (
    "crypto/rand"
    "fmt"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// codeGen returns n upper alnum characters.
func codeGen(n int) (string, error) {
    if n <= 0 { n = 6 }
    b := make([]byte, n)
    if _, err := rand.Read(b); err != nil {
        return "", fmt.Errorf("room code: %w", err)
    }
    // 252 is the largest multiple of 36 below 256; redraw above it
    for i := range b {
        for b[i] >= 252 {
            var one [1]byte
            if _, err := rand.Read(one[:]); err != nil { return "", fmt.Errorf("room code: %w", err) }
            b[i] = one[0]
        }
        b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
    }
    return string(b), nil
}

// NormalizeRoomID upper-cases and trims a user-typed code.
func NormalizeRoomID(raw string) string {
    out := make([]byte, 0, len(raw))
    for i := 0; i < len(raw); i++ {
        c := raw[i]
        switch {
        case c >= 'a' && c <= 'z':
            out = append(out, c-'a'+'A')
        case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
            out = append(out, c)
        }
    }
    return string(out)
}
