package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/Cheese-TicTacToe/internal/auth"
	"github.com/park285/Cheese-TicTacToe/internal/wsclient"
	"github.com/valyala/fasthttp"
)

func main() {
	baseURL := strings.TrimRight(os.Getenv("TTT_BASE_URL"), "/")
	if baseURL == "" {
		log.Fatal("TTT_BASE_URL is required")
	}
	wsURL := os.Getenv("TTT_WS_URL")
	if wsURL == "" {
		wsURL = "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	}

	status, body, err := fasthttp.GetTimeout(nil, baseURL+"/healthz", 5*time.Second)
	if err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		log.Printf("/healthz %d: %s", status, strings.TrimSpace(string(body)))
	}

	token, err := resolveToken()
	if err != nil {
		log.Fatalf("token: %v", err)
	}

	c := wsclient.New(wsURL, token, wsclient.WithReconnect(3))
	c.OnStateChange(func(s wsclient.State) {
		log.Printf("WS state: %s", s)
	})
	c.OnFrame(func(f wsclient.Frame) {
		fmt.Printf("WS event=%s data=%s\n", f.Event, f.Data)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := c.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}

	t := time.NewTimer(10 * time.Second)
	<-t.C

	_ = c.Close(context.Background())
}

// resolveToken prefers TTT_TOKEN and otherwise mints a short-lived token
// from JWT_SECRET for a probe identity.
func resolveToken() (string, error) {
	if tok := strings.TrimSpace(os.Getenv("TTT_TOKEN")); tok != "" {
		return tok, nil
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return "", fmt.Errorf("TTT_TOKEN or JWT_SECRET is required")
	}
	v, err := auth.NewJWTVerifier(secret, os.Getenv("JWT_ISSUER"))
	if err != nil {
		return "", err
	}
	return v.Issue(auth.User{ID: "wscheck", Username: "wscheck"}, 5*time.Minute)
}
