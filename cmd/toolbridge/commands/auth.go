package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/toolbridge/internal/tokensource"
)

// authCommand returns the 'auth' subcommand for managing the backend API key.
func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the backend API key stored in the OS keyring",
		Commands: []*cli.Command{
			authSetKeyCommand(),
			authClearKeyCommand(),
		},
	}
}

func authSetKeyCommand() *cli.Command {
	return &cli.Command{
		Name:   "set-key",
		Usage:  "Store the backend API key (used with upstream.credential = \"keyring\")",
		Action: authSetKeyAction,
	}
}

func authClearKeyCommand() *cli.Command {
	return &cli.Command{
		Name:   "clear-key",
		Usage:  "Remove the stored backend API key",
		Action: authClearKeyAction,
	}
}

func keyringStore() tokensource.Store {
	return tokensource.NewKeyringStore(tokensource.KeyringService, tokensource.KeyringUser)
}

func authSetKeyAction(ctx context.Context, _ *cli.Command) error {
	key, err := readSecureInput(ctx, "Enter backend API key: ")
	if err != nil {
		return err
	}
	if err := storeKey(ctx, keyringStore(), key); err != nil {
		return err
	}

	fmt.Println("API key saved to the OS keyring")
	return nil
}

func authClearKeyAction(ctx context.Context, _ *cli.Command) error {
	// Clear via empty string write to maintain storage abstraction
	if err := keyringStore().Write(ctx, ""); err != nil {
		return fmt.Errorf("failed to clear key: %w", err)
	}

	fmt.Println("API key removed from the OS keyring")
	return nil
}

func storeKey(ctx context.Context, store tokensource.Store, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("API key cannot be empty")
	}
	if err := store.Write(ctx, key); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

// readSecureInput reads user input with hidden display and context cancellation support.
// Goroutine+select pattern required because term.ReadPassword has no native context support.
func readSecureInput(ctx context.Context, prompt string) (string, error) {
	fmt.Print(prompt)
	defer fmt.Println()

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		inputBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		resultCh <- result{value: string(inputBytes), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		return res.value, nil
	}
}
