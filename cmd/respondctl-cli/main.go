// respondctl-cli is a thin HTTP demo client for the governed response
// runtime: one-shot mode (`respondctl-cli "some question"`) or an
// interactive REPL (`respondctl-cli -i`) against a running server.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ANSI codes
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
)

var actionColor = map[string]string{
	"ANSWER":           ansiGreen,
	"ASK_ONE_QUESTION": ansiYellow,
	"REFUSE":           ansiRed,
	"CLOSE":            ansiDim,
}

type chatRequest struct {
	UserText  string `json:"user_text"`
	Mode      string `json:"mode,omitempty"`
	Tier      string `json:"tier,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Action       string `json:"action"`
	RenderedText string `json:"rendered_text"`
	UXState      string `json:"ux_state"`
	RequestID    string `json:"request_id"`
}

type errorResponse struct {
	OK            bool   `json:"ok"`
	FailureType   string `json:"failure_type"`
	FailureReason string `json:"failure_reason"`
	RequestID     string `json:"request_id"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	interactive := flag.Bool("i", false, "interactive REPL mode")
	mode := flag.String("mode", "", `request mode ("deep" enables deep-think refinement)`)
	tier := flag.String("tier", "", "entitlement tier override (FREE, PRO, MAX)")
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}
	sessionID := uuid.New().String()

	if *interactive {
		runREPL(client, *baseURL, *mode, *tier, sessionID)
		return
	}

	text := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if text == "" {
		fmt.Fprintln(os.Stderr, "usage: respondctl-cli [-url URL] [-mode deep] [-tier TIER] \"your request\"")
		fmt.Fprintln(os.Stderr, "       respondctl-cli -i   (interactive)")
		os.Exit(2)
	}
	if !send(client, *baseURL, chatRequest{UserText: text, Mode: *mode, Tier: *tier, SessionID: sessionID}) {
		os.Exit(1)
	}
}

func runREPL(client *http.Client, baseURL, mode, tier, sessionID string) {
	fmt.Printf("%srespondctl%s — session %s%s%s (blank line or Ctrl+D to exit)\n",
		ansiBold, ansiReset, ansiDim, sessionID[:8], ansiReset)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("%s❯%s ", ansiCyan, ansiReset)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		send(client, baseURL, chatRequest{UserText: line, Mode: mode, Tier: tier, SessionID: sessionID})
	}
	fmt.Println()
}

// send posts one chat request and renders the round-trip: a dim status line
// while in flight, then the action-colored response.
func send(client *http.Client, baseURL string, req chatRequest) bool {
	fmt.Printf("%s… deciding%s\r", ansiDim, ansiReset)
	started := time.Now()

	payload, err := json.Marshal(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", ansiRed, ansiReset, err)
		return false
	}
	resp, err := client.Post(baseURL+"/api/chat", "application/json", bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", ansiRed, ansiReset, err)
		return false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", ansiRed, ansiReset, err)
		return false
	}
	elapsed := time.Since(started).Round(time.Millisecond)

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		if json.Unmarshal(body, &er) == nil && er.FailureType != "" {
			fmt.Printf("%s✗ %s%s %s(%s, %s, %s)%s\n",
				ansiRed, er.FailureType, ansiReset, ansiDim, er.FailureReason, er.RequestID, elapsed, ansiReset)
		} else {
			fmt.Printf("%s✗ HTTP %d%s\n", ansiRed, resp.StatusCode, ansiReset)
		}
		return false
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		fmt.Fprintf(os.Stderr, "%serror:%s bad response: %v\n", ansiRed, ansiReset, err)
		return false
	}
	color := actionColor[cr.Action]
	if color == "" {
		color = ansiReset
	}
	fmt.Printf("%s%s%s %s[%s, %s, %s]%s\n", color+ansiBold, cr.Action, ansiReset,
		ansiDim, cr.UXState, cr.RequestID[:8], elapsed, ansiReset)
	if cr.RenderedText != "" {
		fmt.Println(cr.RenderedText)
	}
	return true
}
