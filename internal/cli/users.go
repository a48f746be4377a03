package cli

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage API users",
}

var usersAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create an API user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		password, err := promptPassword()
		if err != nil {
			return err
		}

		if err := svc.Auth.CreateUser(ctx, args[0], password); err != nil {
			return err
		}
		fmt.Printf("user %s created\n", args[0])
		return nil
	},
}

var usersPasswdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Change a user's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		password, err := promptPassword()
		if err != nil {
			return err
		}

		if err := svc.Auth.SetPassword(ctx, args[0], password); err != nil {
			return err
		}
		fmt.Printf("password updated for %s\n", args[0])
		return nil
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete an API user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.Auth.DeleteUser(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("user %s deleted\n", args[0])
		return nil
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API users",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		users, err := svc.Auth.ListUsers(ctx)
		if err != nil {
			return err
		}
		for _, user := range users {
			fmt.Println(user.Username)
		}
		return nil
	},
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if string(password) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(password), nil
}
