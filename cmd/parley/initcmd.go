package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// configTemplate is the YAML skeleton written by `parley init`.
const configTemplate = `server:
  bind: %q

store:
  path: parley.db

provider:
  base_url: %q
  api_key: ${OPENAI_API_KEY:-%s}
  model: %q

engine:
  token_budget: 3000
  summary_pairs: 10

quota:
  daily_limit: 50
  reset_schedule: "0 0 * * *"

log:
  level: info
  format: text

users:
  - id: %q
    token: %q
`

func initCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively generate a configuration file",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", out)
			}

			var (
				baseURL = "https://api.openai.com/v1"
				apiKey  string
				model   = "gpt-4o-mini"
				bind    = "127.0.0.1:8080"
				userID  = "admin"
				token   string
			)

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("OpenAI-compatible base URL").
						Value(&baseURL),
					huh.NewInput().
						Title("API key (leave empty to use $OPENAI_API_KEY)").
						EchoMode(huh.EchoModePassword).
						Value(&apiKey),
					huh.NewInput().
						Title("Default model").
						Value(&model),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("Bind address").
						Value(&bind),
					huh.NewInput().
						Title("First user id").
						Value(&userID),
					huh.NewInput().
						Title("Bearer token for that user").
						EchoMode(huh.EchoModePassword).
						Value(&token),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			content := fmt.Sprintf(configTemplate, bind, baseURL, apiKey, model, userID, token)
			if err := os.WriteFile(out, []byte(content), 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}

			fmt.Printf("Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "parley.yaml", "Output path")
	return cmd
}
