package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/deepskandpal/LangChef/cmd/langchefctl/internal/client"
	"github.com/deepskandpal/LangChef/cmd/langchefctl/internal/credstore"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with AWS IAM Identity Center",
	Long: `Signs in using the AWS SSO device authorization flow.

langchefctl prints a verification URL and a user code. Open the URL in a browser,
confirm the code and approve the request. The CLI waits for the approval and then
stores the LangChef bearer token for later commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := credstore.NewFileStore(configDir)
		if err != nil {
			return fmt.Errorf("failed to create credential store: %w", err)
		}

		ctx := cmd.Context()
		c := client.New(serverURL, nil)
		reg, err := c.RegisterClient(ctx)
		if err != nil {
			return err
		}
		da, err := c.Authorize(ctx, reg)
		if err != nil {
			return err
		}

		pterm.DefaultSection.Println("Device Login")
		pterm.Info.Printf("Open %s in your browser\n", da.VerificationURI)
		pterm.Info.Printf("and confirm the code: %s\n", pterm.Bold.Sprint(da.UserCode))
		if da.VerificationURIComplete != "" {
			pterm.Info.Printf("Or open %s directly\n", da.VerificationURIComplete)
		}

		spinner, _ := pterm.DefaultSpinner.
			WithRemoveWhenDone(true).
			Start(fmt.Sprintf("Waiting for approval (code expires in %s)", time.Duration(da.ExpiresIn)*time.Second))
		session, err := c.PollToken(ctx, reg, da)
		if spinner != nil {
			_ = spinner.Stop()
		}
		switch {
		case errors.Is(err, client.ErrExpired), errors.Is(err, client.ErrDenied):
			return err
		case errors.Is(err, context.Canceled):
			return fmt.Errorf("login canceled")
		case err != nil:
			return fmt.Errorf("login failed: %w", err)
		}

		if err := store.Save(&credstore.Credentials{
			Server:      serverURL,
			AccessToken: session.AccessToken,
			TokenType:   session.TokenType,
			ExpiresAt:   session.ExpiresAt,
			Username:    session.User.Username,
		}); err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}

		pterm.Success.Printf("Signed in as %s (%s)\n", session.User.Username, session.User.Email)
		pterm.Info.Printf("Token expires at %s\n", session.ExpiresAt.Local().Format(time.RFC1123))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := credstore.NewFileStore(configDir)
		if err != nil {
			return fmt.Errorf("failed to create credential store: %w", err)
		}
		if err := store.Delete(); err != nil {
			return fmt.Errorf("failed to delete credentials: %w", err)
		}
		pterm.Success.Println("Logged out")
		return nil
	},
}
