package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/xhad/concierge/internal/models"
	"github.com/xhad/concierge/pkg/rag"
)

var chatTenant string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask a tenant's assistant questions from the terminal",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatTenant, "tenant", "", "Tenant ID (required)")
	chatCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tenantID, err := uuid.Parse(chatTenant)
	if err != nil {
		return fmt.Errorf("invalid tenant id: %w", err)
	}

	c, err := buildComponents(ctx, 0)
	if err != nil {
		return err
	}
	defer c.Close()

	tenant, err := c.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	settings, err := c.store.GetSettings(ctx, tenantID)
	if err != nil {
		return err
	}
	orchestrator, err := c.orchestrator()
	if err != nil {
		return err
	}

	color.Cyan("\nChat with the %s assistant (type 'exit' to quit)", tenant.Name)

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.ToLower(query) == "exit" {
			break
		}
		if query == "" {
			continue
		}

		spinner := getSpinner(" Thinking...")
		answer, err := orchestrator.Answer(ctx, rag.AnswerRequest{
			TenantID:        tenantID,
			Message:         query,
			EscalationPhone: settings.EscalationPhone,
			EscalationEmail: settings.EscalationEmail,
			GreetingMessage: settings.GreetingMessage,
		})
		spinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}
		printAnswer(assistantPrompt, answer)
	}

	return nil
}

func printAnswer(assistantPrompt func(string, ...interface{}), answer models.Answer) {
	if answer.Outcome == models.OutcomeFallback && answer.Escalation != nil {
		color.Yellow("Assistant: %s", answer.Escalation.Message)
		if answer.Escalation.Phone != nil {
			color.Yellow("  Phone: %s", *answer.Escalation.Phone)
		}
		if answer.Escalation.Email != nil {
			color.Yellow("  Email: %s", *answer.Escalation.Email)
		}
		color.HiBlack("  (confidence %.2f)", answer.Confidence)
		return
	}

	if answer.AnswerText != nil {
		assistantPrompt("Assistant: %s\n", *answer.AnswerText)
	}
	for _, c := range answer.Citations {
		color.HiBlack("  [%s] %s", c.ChunkID, c.Title)
	}
	if len(answer.Citations) > 0 {
		color.HiBlack("  (confidence %.2f)", answer.Confidence)
	}
}
