package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

func main() {
	server := flag.String("server", "http://localhost:3210", "Famulus server URL")
	session := flag.String("session", "", "Session ID (random when empty)")
	flag.Parse()

	sessionID := *session
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	fmt.Println("Famulus CLI Chat")
	fmt.Printf("Server: %s | Session: %s\n", *server, sessionID)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /budget, /conference <topic>, /search <query>")
	fmt.Println("---")

	fetchBudget(*server)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}
		if input == "/budget" {
			fetchBudget(*server)
			continue
		}
		if topic, ok := strings.CutPrefix(input, "/conference "); ok {
			runConference(*server, strings.TrimSpace(topic))
			continue
		}
		if query, ok := strings.CutPrefix(input, "/search "); ok {
			searchMemory(*server, strings.TrimSpace(query))
			continue
		}

		sendMessage(*server, sessionID, input)
	}
}

func fetchBudget(server string) {
	resp, err := http.Get(server + "/api/budget")
	if err != nil {
		printError("Failed to fetch budget: %v", err)
		return
	}
	defer resp.Body.Close()

	var status struct {
		TokensUsed      int     `json:"tokens_used"`
		TokensRemaining int     `json:"tokens_remaining"`
		DailyLimit      int     `json:"daily_limit"`
		UsageRatio      float64 `json:"usage_ratio"`
		Warning         bool    `json:"is_warning"`
		Exhausted       bool    `json:"is_exhausted"`
		RequestCount    int     `json:"request_count"`
		CuriosityOps    int     `json:"curiosity_ops_remaining"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		printError("Failed to parse budget: %v", err)
		return
	}

	icon := "\033[32m✓\033[0m"
	if status.Exhausted {
		icon = "\033[31m✗\033[0m"
	} else if status.Warning {
		icon = "\033[33m!\033[0m"
	}
	fmt.Printf("%s Budget: %d/%d tokens (%.0f%%) | %d requests | %d curiosity ops left\n",
		icon, status.TokensUsed, status.DailyLimit, status.UsageRatio*100,
		status.RequestCount, status.CuriosityOps)
}

func runConference(server, topic string) {
	if topic == "" {
		printError("Usage: /conference <topic>")
		return
	}
	body, _ := json.Marshal(map[string]string{"topic": topic})

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(server+"/api/conference", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Conference failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var result struct {
		Team   string `json:"team"`
		Rounds []struct {
			Number           int  `json:"number"`
			ConsensusReached bool `json:"consensus_reached"`
			Contributions    []struct {
				Agent      string  `json:"agent"`
				Content    string  `json:"content"`
				Confidence float64 `json:"confidence"`
			} `json:"contributions"`
		} `json:"rounds"`
		Summary      string   `json:"summary"`
		Participants []string `json:"participants"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		printError("Failed to parse conference result: %v", err)
		return
	}

	fmt.Printf("Conference (%s team: %s)\n", result.Team, strings.Join(result.Participants, ", "))
	for _, round := range result.Rounds {
		fmt.Printf("--- Round %d ---\n", round.Number)
		for _, c := range round.Contributions {
			fmt.Printf("\033[36m[%s %.2f]\033[0m %s\n", c.Agent, c.Confidence, c.Content)
		}
		if round.ConsensusReached {
			fmt.Println("\033[32mConsensus reached.\033[0m")
		}
	}
	fmt.Printf("\nSummary: %s\n", result.Summary)
}

func searchMemory(server, query string) {
	if query == "" {
		printError("Usage: /search <query>")
		return
	}
	resp, err := http.Get(server + "/api/memory/search?q=" + url.QueryEscape(query))
	if err != nil {
		printError("Search failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var results []struct {
		Content    string  `json:"content"`
		Source     string  `json:"source"`
		FinalScore float64 `json:"final_score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		printError("Failed to parse search results: %v", err)
		return
	}
	if len(results) == 0 {
		fmt.Println("Nothing remembered about that.")
		return
	}
	for _, r := range results {
		fmt.Printf("  %.2f \033[36m[%s]\033[0m %s\n", r.FinalScore, r.Source, oneLine(r.Content, 120))
	}
}

func sendMessage(server, sessionID, content string) {
	body, _ := json.Marshal(map[string]string{
		"input":      content,
		"session_id": sessionID,
	})

	client := &http.Client{Timeout: 65 * time.Second}
	resp, err := client.Post(
		server+"/api/assist",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var result struct {
		Content    string  `json:"content"`
		Confidence float64 `json:"confidence"`
		Source     string  `json:"source"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}

	fmt.Printf("\033[36m[%s %.2f]\033[0m %s\n", result.Source, result.Confidence, result.Content)
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return s
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
