package cmd

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/deepskandpal/LangChef/cmd/langchefctl/internal/credstore"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, creds, err := authenticated(cmd)
		if err != nil {
			return err
		}
		if creds.Expired(time.Now()) {
			return fmt.Errorf("token expired at %s, run langchefctl login", creds.ExpiresAt.Local().Format(time.RFC1123))
		}
		u, err := c.Me(cmd.Context())
		if err != nil {
			return err
		}

		pterm.DefaultSection.Println("Signed-in User")
		data := pterm.TableData{
			{"Username", u.Username},
			{"Email", u.Email},
			{"Name", u.FullName},
			{"ID", u.ID},
		}
		return pterm.DefaultTable.WithData(data).Render()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display token and AWS credential status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, creds, err := authenticated(cmd)
		if err != nil {
			return err
		}

		pterm.DefaultSection.Println("Authentication Status")
		pterm.Info.Printf("Logged in as %s\n", creds.Username)
		if creds.Expired(time.Now()) {
			pterm.Warning.Printf("Token expired at %s\n", creds.ExpiresAt.Local().Format(time.RFC1123))
			return nil
		}
		pterm.Info.Printf("Token expires at %s\n", creds.ExpiresAt.Local().Format(time.RFC1123))

		st, err := c.CredentialsStatus(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get credential status: %w", err)
		}
		switch {
		case st.Valid && st.ExpiresAt != nil:
			pterm.Success.Printf("AWS credentials valid until %s\n", st.ExpiresAt.Local().Format(time.RFC1123))
		case st.Valid:
			pterm.Success.Println("AWS credentials valid")
		default:
			pterm.Warning.Println("No valid AWS credentials; Bedrock models are unavailable until you log in again")
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the stored token for a fresh one",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, creds, err := authenticated(cmd)
		if err != nil {
			return err
		}
		s, err := c.Refresh(cmd.Context())
		if err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}
		if err := store.Save(&credstore.Credentials{
			Server:      creds.Server,
			AccessToken: s.AccessToken,
			TokenType:   s.TokenType,
			ExpiresAt:   s.ExpiresAt,
			Username:    s.User.Username,
		}); err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}
		pterm.Success.Printf("Token refreshed, expires at %s\n", s.ExpiresAt.Local().Format(time.RFC1123))
		return nil
	},
}
