package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var answerCmd = &cobra.Command{
	Use:   "answer [session-id] [response]",
	Short: "Submit a response to the current prompt",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runAnswer,
}

func init() {
	rootCmd.AddCommand(answerCmd)
}

func runAnswer(cmd *cobra.Command, args []string) error {
	id := args[0]
	response := strings.Join(args[1:], " ")

	payload, _ := json.Marshal(map[string]string{"response": response})
	resp, err := http.Post(serverURL+"/api/sessions/"+id+"/responses", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Turn struct {
			Index   int `json:"index"`
			Verdict *struct {
				Score             int    `json:"score"`
				Feedback          string `json:"feedback"`
				ParticipantDamage int    `json:"participant_damage"`
				JudgeDamage       int    `json:"judge_damage"`
			} `json:"verdict"`
		} `json:"turn"`
		Session sessionView `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	v := result.Turn.Verdict
	sess := result.Session

	switch sess.Mode {
	case "viva":
		fmt.Printf("Score: %d/10\n", v.Score)
		if v.Feedback != "" {
			fmt.Printf("Feedback: %s\n", v.Feedback)
		}
		if sess.Status == "active" {
			fmt.Printf("\nContinue with: crucible advance %s  (or: crucible finish %s)\n", sess.ID, sess.ID)
		}
	case "battle":
		fmt.Printf("You dealt %d damage, took %d damage.\n", v.JudgeDamage, v.ParticipantDamage)
		if v.Feedback != "" {
			fmt.Printf("Feedback: %s\n", v.Feedback)
		}
		fmt.Printf("HP: you %d / Boss %d\n", sess.ParticipantHP, sess.JudgeHP)
	}

	switch sess.Status {
	case "victory":
		fmt.Println("\n🏆 Victory! The Boss is down.")
	case "defeat":
		fmt.Println("\n💀 Defeat. The Boss outlasted you.")
	case "completed":
		fmt.Println("\n✅ Viva complete.")
	case "active":
		if len(sess.Turns) > 0 {
			if last := sess.Turns[len(sess.Turns)-1]; last.Verdict == nil {
				fmt.Printf("\n%s\n", last.Prompt)
			}
		}
	}
	return nil
}
