package main

import (
	"fmt"
	"io"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"exchangesync/backend"
	"exchangesync/internal/config"
	"exchangesync/internal/credentials"
	"exchangesync/internal/utils"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage backend credentials",
		Long: `Securely manage credentials using system keyring.

Credentials are looked up in this order:
  1. System keyring (most secure) - recommended
  2. Environment variables (good for CI/CD)
  3. Config file values (least secure)

For oauth2 backends the client secret is stored under the client id.

Examples:
  # Store a password in the keyring (interactive prompt)
  exchangesync credentials set work jane@example.com --prompt

  # Store the OAuth2 client secret of an oauth2 backend
  exchangesync credentials set online --prompt

  # Check where credentials come from
  exchangesync credentials get work

  # Remove credentials from keyring
  exchangesync credentials delete work`,
	}

	cmd.AddCommand(newCredentialsSetCmd())
	cmd.AddCommand(newCredentialsGetCmd())
	cmd.AddCommand(newCredentialsDeleteCmd())

	return cmd
}

func lookupBackendConfig(name string) (*backend.BackendConfig, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	return cfg.GetBackend(name)
}

// keyringUser returns the keyring account: the client id for oauth2
// backends, otherwise the explicit or configured username
func keyringUser(bc *backend.BackendConfig, args []string) (string, error) {
	if len(args) >= 2 {
		return args[1], nil
	}
	if bc.Auth == "oauth2" && bc.OAuth2 != nil && bc.OAuth2.ClientID != "" {
		return bc.OAuth2.ClientID, nil
	}
	if bc.Username != "" {
		return bc.Username, nil
	}
	return "", fmt.Errorf("username is required (not found in config for backend %q)", bc.Name)
}

func envVarName(backendName, field string) string {
	name := strings.NewReplacer("-", "_", ".", "_").Replace(strings.ToUpper(backendName))
	return credentials.EnvPrefix + name + "_" + field
}

func newCredentialsSetCmd() *cobra.Command {
	var promptPassword bool

	cmd := &cobra.Command{
		Use:   "set <backend> [username] [password]",
		Short: "Store credentials in system keyring",
		Long: `Store backend credentials securely in the system keyring.

If username is not provided, it will be read from the backend configuration.
If --prompt is specified, password will be read interactively (recommended for security).`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			bc, err := lookupBackendConfig(args[0])
			if err != nil {
				return err
			}
			username, err := keyringUser(bc, args)
			if err != nil {
				return err
			}

			secretName := "password"
			if bc.Auth == "oauth2" {
				secretName = "client secret"
			}

			var password string
			if promptPassword {
				fmt.Fprintf(out, "Enter %s for %s@%s: ", secretName, username, bc.Name)
				passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
				fmt.Fprintln(out)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", secretName, err)
				}
				password = string(passwordBytes)
				if password == "" {
					return fmt.Errorf("%s cannot be empty", secretName)
				}
			} else if len(args) >= 3 {
				password = args[2]
			} else {
				return fmt.Errorf("%s is required (use --prompt for interactive input)", secretName)
			}

			if err := credentials.Set(bc.Name, username, password); err != nil {
				if !credentials.IsAvailable() {
					field := "PASSWORD"
					if bc.Auth == "oauth2" {
						field = "CLIENT_SECRET"
					}
					return utils.WrapWithSuggestion(
						fmt.Errorf("system keyring is not available: %w", err),
						fmt.Sprintf("Use environment variables instead:\n  export %s=%s\n  export %s=<secret>",
							envVarName(bc.Name, "USERNAME"), username, envVarName(bc.Name, field)),
					)
				}
				return err
			}

			fmt.Fprintf(out, "✓ Credentials stored successfully for %s@%s\n", username, bc.Name)
			if bc.Password != "" || (bc.OAuth2 != nil && bc.OAuth2.ClientSecret != "") {
				fmt.Fprintln(out, "\nThe keyring takes precedence; remove the secret from the config file.")
			}
			if bc.Auth != "oauth2" && bc.Username == "" {
				fmt.Fprintf(out, "Add 'username: %s' to the backend config.\n", username)
			}
			fmt.Fprintf(out, "Test the connection: exchangesync tasks --backend %s\n", bc.Name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&promptPassword, "prompt", false, "Prompt for password interactively (recommended)")
	return cmd
}

func newCredentialsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <backend> [username]",
		Short: "Check credential status for a backend",
		Long: `Check which credential source is being used for a backend.

This command shows where credentials are found (keyring, environment, or config)
but does not display the actual secret.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			bc, err := lookupBackendConfig(args[0])
			if err != nil {
				return err
			}
			resolver := credentials.NewResolver()

			if bc.Auth == "oauth2" {
				if bc.OAuth2 == nil {
					return fmt.Errorf("backend %q has no oauth2 section", bc.Name)
				}
				_, source, err := resolver.ResolveClientSecret(bc.Name, bc.OAuth2.ClientID, bc.OAuth2.ClientSecret)
				if err != nil {
					printMissingCredentials(out, bc.Name, "CLIENT_SECRET")
					return err
				}
				fmt.Fprintf(out, "✓ Client secret found for backend %q\n", bc.Name)
				fmt.Fprintf(out, "  Client ID: %s\n", bc.OAuth2.ClientID)
				fmt.Fprintf(out, "  Source: %s\n", source)
				printSourceAdvice(out, bc.Name, bc.OAuth2.ClientID, source)
				return nil
			}

			username := bc.Username
			if len(args) >= 2 {
				username = args[1]
			}
			creds, err := resolver.Resolve(bc.Name, credentials.ConfigValues{
				Username: username,
				Password: bc.Password,
				Host:     bc.Host,
			})
			if err != nil {
				printMissingCredentials(out, bc.Name, "PASSWORD")
				return err
			}

			fmt.Fprintf(out, "✓ Credentials found for backend %q\n", bc.Name)
			fmt.Fprintf(out, "  Username: %s\n", creds.Username)
			fmt.Fprintf(out, "  Source: %s\n", creds.Source)
			if creds.Host != "" {
				fmt.Fprintf(out, "  Host: %s\n", creds.Host)
			}
			printSourceAdvice(out, bc.Name, creds.Username, creds.Source)
			return nil
		},
	}
}

func printMissingCredentials(out io.Writer, backendName, field string) {
	fmt.Fprintf(out, "✗ No credentials found for backend %q\n", backendName)
	fmt.Fprintln(out, "\nAvailable options:")
	fmt.Fprintln(out, "  1. Store in keyring:")
	fmt.Fprintf(out, "     exchangesync credentials set %s --prompt\n", backendName)
	fmt.Fprintln(out, "  2. Set environment variables:")
	if field == "PASSWORD" {
		fmt.Fprintf(out, "     export %s=<username>\n", envVarName(backendName, "USERNAME"))
	}
	fmt.Fprintf(out, "     export %s=<secret>\n", envVarName(backendName, field))
	fmt.Fprintln(out, "  3. Add to the backend config (not recommended)")
}

func printSourceAdvice(out io.Writer, backendName, username string, source credentials.Source) {
	switch source {
	case credentials.SourceKeyring:
		fmt.Fprintln(out, "\n✓ Using secure keyring storage (recommended)")
	case credentials.SourceEnv:
		fmt.Fprintln(out, "\n⚠ Using environment variables")
		fmt.Fprintln(out, "  Consider using keyring for better security:")
		fmt.Fprintf(out, "    exchangesync credentials set %s %s --prompt\n", backendName, username)
	case credentials.SourceConfig:
		fmt.Fprintln(out, "\n⚠ Using the secret from the config file (not recommended)")
		fmt.Fprintln(out, "  Consider migrating to keyring:")
		fmt.Fprintf(out, "    exchangesync credentials set %s %s --prompt\n", backendName, username)
	}
}

func newCredentialsDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <backend> [username]",
		Short: "Remove credentials from system keyring",
		Long: `Remove stored credentials from the system keyring.

This only removes credentials from the keyring. Credentials in environment
variables or the config file are not affected.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			bc, err := lookupBackendConfig(args[0])
			if err != nil {
				return err
			}
			username, err := keyringUser(bc, args)
			if err != nil {
				return err
			}

			if !force && !utils.PromptYesNo(fmt.Sprintf("Delete credentials for %s@%s from keyring?", username, bc.Name)) {
				fmt.Fprintln(out, "Cancelled")
				return nil
			}

			if err := credentials.Delete(bc.Name, username); err != nil {
				return err
			}

			fmt.Fprintf(out, "✓ Credentials removed for %s@%s\n", username, bc.Name)
			fmt.Fprintln(out, "\n⚠ Note: This only removed keyring credentials.")
			fmt.Fprintln(out, "  Environment variables and config file credentials are not affected.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")
	return cmd
}
