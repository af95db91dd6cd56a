package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var startMode string

var startCmd = &cobra.Command{
	Use:   "start [subject]",
	Short: "Start an evaluation session",
	Long: `Start an evaluation session for a subject (owner/repo).

Viva mode asks a fixed set of questions and grades each answer.
Battle mode is adversarial: land hits on the Boss before it lands hits on you.`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startMode, "mode", "viva", "session mode: viva or battle")
	rootCmd.AddCommand(startCmd)
}

type sessionView struct {
	ID            string `json:"id"`
	SubjectID     string `json:"subject_id"`
	Mode          string `json:"mode"`
	Status        string `json:"status"`
	ParticipantHP int    `json:"participant_hp"`
	JudgeHP       int    `json:"judge_hp"`
	Turns         []struct {
		Index    int    `json:"index"`
		Prompt   string `json:"prompt"`
		Response string `json:"response"`
		Verdict  *struct {
			Score             int    `json:"score"`
			Feedback          string `json:"feedback"`
			ParticipantDamage int    `json:"participant_damage"`
			JudgeDamage       int    `json:"judge_damage"`
		} `json:"verdict"`
	} `json:"turns"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func runStart(cmd *cobra.Command, args []string) error {
	payload, _ := json.Marshal(map[string]string{
		"subject": args[0],
		"mode":    startMode,
	})

	resp, err := http.Post(serverURL+"/api/sessions", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: crucible serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var sess sessionView
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Session %s started (%s, %s)\n", sess.ID, sess.SubjectID, sess.Mode)
	if sess.Mode == "battle" {
		fmt.Printf("HP: you %d / Boss %d\n", sess.ParticipantHP, sess.JudgeHP)
	}
	if len(sess.Turns) > 0 {
		fmt.Printf("\n%s\n", sess.Turns[len(sess.Turns)-1].Prompt)
	}
	fmt.Printf("\nAnswer with: crucible answer %s \"your answer\"\n", sess.ID)
	return nil
}
