package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/firealarmweb/firealarm/internal/api/auth"
	"github.com/firealarmweb/firealarm/internal/api/users"
	"github.com/firealarmweb/firealarm/internal/models"
	"github.com/firealarmweb/firealarm/internal/storage"
)

var (
	userUsername string
	userEmail    string
	userRole     string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User management commands",
	Long: `Commands for managing accounts directly in the database.

Examples:
  firectl user list
  firectl user create --username chief --email chief@example.com --role admin
  firectl user passwd --username chief`,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase()
		if err != nil {
			return err
		}
		defer store.Close()

		userList, err := store.Users().List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}

		if output == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(userList)
		}
		if len(userList) == 0 {
			fmt.Println("No users found.")
			return nil
		}

		fmt.Printf("\n%-36s  %-20s  %-30s  %-6s  %s\n", "ID", "USERNAME", "EMAIL", "ROLE", "CREATED")
		fmt.Println(strings.Repeat("-", 116))
		for _, u := range userList {
			fmt.Printf("%-36s  %-20s  %-30s  %-6s  %s\n",
				u.ID, u.Username, u.Email, u.Role, u.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("\nTotal: %d user(s)\n", len(userList))
		return nil
	},
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
	Long: `Create a new user. The password is prompted for and never echoed.

Password requirements:
  - Minimum 12 characters
  - At least 1 uppercase letter, 1 lowercase letter and 1 digit
  - At least 1 special character

Roles:
  - admin: verifies and files incidents, manages users
  - user:  reads incidents and takes part in the chat`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptNewPassword("Enter password: ", "Confirm password: ")
		if err != nil {
			return err
		}

		store, err := openDatabase()
		if err != nil {
			return err
		}
		defer store.Close()

		user, err := createUser(cmd.Context(), store.Users(), userUsername, userEmail, userRole, password)
		if err != nil {
			return err
		}

		fmt.Printf("\nUser created successfully:\n")
		fmt.Printf("  ID:       %s\n", user.ID)
		fmt.Printf("  Username: %s\n", user.Username)
		fmt.Printf("  Email:    %s\n", user.Email)
		fmt.Printf("  Role:     %s\n", user.Role)
		return nil
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change a user's password",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptNewPassword("Enter new password: ", "Confirm new password: ")
		if err != nil {
			return err
		}

		store, err := openDatabase()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := changePassword(cmd.Context(), store.Users(), userUsername, password); err != nil {
			return err
		}
		fmt.Printf("\nPassword changed successfully for user '%s'.\n", userUsername)
		fmt.Println("Existing browser sessions end when the server restarts or they expire.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userListCmd, userCreateCmd, userPasswdCmd)

	userCreateCmd.Flags().StringVar(&userUsername, "username", "", "username for the new user (required)")
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "email for the new user (required)")
	userCreateCmd.Flags().StringVar(&userRole, "role", "user", "role: admin or user")
	userCreateCmd.MarkFlagRequired("username")
	userCreateCmd.MarkFlagRequired("email")

	userPasswdCmd.Flags().StringVar(&userUsername, "username", "", "username of the user to update (required)")
	userPasswdCmd.MarkFlagRequired("username")
}

// createUser validates and stores a new account.
func createUser(ctx context.Context, repo storage.UserRepository, username, email, role, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if err := users.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}
	if err := users.ValidateEmail(email); err != nil {
		return nil, fmt.Errorf("invalid email: %w", err)
	}
	r, err := users.ValidateRole(role)
	if err != nil {
		return nil, fmt.Errorf("invalid role: %w", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("invalid password: %w", err)
	}

	existing, err := repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("username '%s' already exists", username)
	}
	existing, err = repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("email '%s' already exists", email)
	}

	user := models.NewUser(username, email, r)
	user.ID = uuid.New().String()
	user.PasswordHash = hash
	if err := repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// changePassword replaces the password of an existing account.
func changePassword(ctx context.Context, repo storage.UserRepository, username, password string) error {
	user, err := repo.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("user '%s' not found", username)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("invalid password: %w", err)
	}
	if err := repo.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func promptNewPassword(prompt, confirm string) (string, error) {
	password, err := promptPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if err := auth.ValidatePassword(password); err != nil {
		return "", fmt.Errorf("invalid password: %w", err)
	}
	again, err := promptPassword(confirm)
	if err != nil {
		return "", fmt.Errorf("read password confirmation: %w", err)
	}
	if password != again {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}

var stdinReader = bufio.NewReader(os.Stdin)

// promptPassword prompts for a password without echoing to the terminal.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	// Piped input
	line, err := stdinReader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
