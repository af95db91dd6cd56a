package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Get the status of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch [session-id]",
	Short: "Stream session events",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	id := args[0]

	resp, err := http.Get(serverURL + "/api/sessions/" + id)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var sess sessionView
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Session:  %s\n", sess.ID)
	fmt.Printf("Subject:  %s\n", sess.SubjectID)
	fmt.Printf("Mode:     %s\n", sess.Mode)
	fmt.Printf("Status:   %s\n", statusIcon(sess.Status))
	if sess.Mode == "battle" {
		fmt.Printf("HP:       you %d / Boss %d\n", sess.ParticipantHP, sess.JudgeHP)
	}
	fmt.Printf("Created:  %s\n", sess.CreatedAt)
	fmt.Printf("Updated:  %s\n", sess.UpdatedAt)

	fmt.Println()
	for _, t := range sess.Turns {
		fmt.Printf("--- Turn %d ---\n", t.Index+1)
		fmt.Printf("Q: %s\n", t.Prompt)
		if t.Response != "" {
			fmt.Printf("A: %s\n", t.Response)
		}
		if t.Verdict != nil {
			if sess.Mode == "viva" {
				fmt.Printf("Score: %d/10 — %s\n", t.Verdict.Score, t.Verdict.Feedback)
			} else {
				fmt.Printf("Dealt %d, took %d — %s\n", t.Verdict.JudgeDamage, t.Verdict.ParticipantDamage, t.Verdict.Feedback)
			}
		} else if t.Response == "" {
			fmt.Println("(awaiting your answer)")
		} else {
			fmt.Println("(awaiting judgment)")
		}
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	id := args[0]

	req, _ := http.NewRequest("GET", serverURL+"/api/sessions/"+id+"/events", nil)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		var event struct {
			Type string `json:"type"`
			Data string `json:"data"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "status":
			fmt.Printf("\033[36m[status]\033[0m %s\n", event.Data)
		case "prompt":
			fmt.Printf("\033[33m[prompt]\033[0m %s\n", event.Data)
		case "feedback":
			fmt.Printf("\033[35m[feedback]\033[0m %s\n", event.Data)
		case "outcome":
			fmt.Printf("\n\033[32m✓ Outcome:\033[0m %s\n", event.Data)
			return nil
		}
	}

	return scanner.Err()
}
