package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var advanceCmd = &cobra.Command{
	Use:   "advance [session-id]",
	Short: "Advance a viva to the next question",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdvance,
}

var finishCmd = &cobra.Command{
	Use:   "finish [session-id]",
	Short: "Complete a viva session",
	Args:  cobra.ExactArgs(1),
	RunE:  runFinish,
}

var abandonCmd = &cobra.Command{
	Use:   "abandon [session-id]",
	Short: "Abandon an active session",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbandon,
}

func init() {
	rootCmd.AddCommand(advanceCmd)
	rootCmd.AddCommand(finishCmd)
	rootCmd.AddCommand(abandonCmd)
}

func runAdvance(cmd *cobra.Command, args []string) error {
	resp, err := postAction(args[0], "advance")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var turn struct {
		Index  int    `json:"index"`
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&turn); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	fmt.Printf("Question %d:\n%s\n", turn.Index+1, turn.Prompt)
	return nil
}

func runFinish(cmd *cobra.Command, args []string) error {
	resp, err := postAction(args[0], "finish")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var sess sessionView
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	total, count := 0, 0
	for _, t := range sess.Turns {
		if t.Verdict != nil {
			total += t.Verdict.Score
			count++
		}
	}
	fmt.Printf("Viva complete: %d points over %d questions.\n", total, count)
	return nil
}

func runAbandon(cmd *cobra.Command, args []string) error {
	resp, err := postAction(args[0], "abandon")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	fmt.Println("Session abandoned.")
	return nil
}

// postAction posts to /api/sessions/{id}/{action} and returns the response
// if the server answered 200.
func postAction(id, action string) (*http.Response, error) {
	resp, err := http.Post(serverURL+"/api/sessions/"+id+"/"+action, "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}
	return resp, nil
}
