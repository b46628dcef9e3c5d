package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"lumen/backend"
	"lumen/credential"
)

var keyOnServer bool

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage your upstream API key",
}

var keySetCmd = &cobra.Command{
	Use:   "set [key]",
	Short: "Store an API key",
	Long: `Stores an API key (it must start with "sk-") on this machine.
Without an argument the key is read from standard input, which keeps it
out of your shell history. With --server the key is also stored,
encrypted, on the backend for your account.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runKeySet,
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show which key is stored, masked",
	Args:  cobra.NoArgs,
	RunE:  runKeyShow,
}

var keyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored key",
	Args:  cobra.NoArgs,
	RunE:  runKeyClear,
}

func init() {
	keySetCmd.Flags().BoolVar(&keyOnServer, "server", false, "Also store the key on the backend")
	keyClearCmd.Flags().BoolVar(&keyOnServer, "server", false, "Also remove the key from the backend")

	keyCmd.AddCommand(keySetCmd, keyShowCmd, keyClearCmd)
}

func runKeySet(cmd *cobra.Command, args []string) error {
	key, err := keyArgument(args, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	local, err := openLocalState(cfg)
	if err != nil {
		return err
	}

	if err := local.credentials.Set(key); err != nil {
		return err
	}

	if keyOnServer {
		remote, err := signedInClient(local)
		if err != nil {
			return err
		}
		status, err := remote.PutKey(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("failed to store key on the backend: %w", err)
		}
		if status.Meta != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Stored on the backend: %s\n", status.Meta.Mask())
		}
	}

	if err := local.credentials.Save(cfg.DataDir()); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stored locally: %s\n", local.credentials.Meta().Mask())
	return nil
}

func runKeyShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	local, err := openLocalState(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Local:   %s\n", describeKey(local.credentials.Meta()))

	account, err := local.account()
	if err != nil {
		return err
	}
	if account == nil {
		fmt.Fprintln(out, "Backend: not signed in")
		return nil
	}

	status, err := backend.New(local.serverURL(), account.ID, nil).Key(cmd.Context())
	switch {
	case errors.Is(err, backend.ErrNotSignedIn):
		fmt.Fprintln(out, "Backend: session expired, run lumen login")
	case err != nil:
		fmt.Fprintf(out, "Backend: unavailable (%v)\n", err)
	case status.Meta != nil:
		fmt.Fprintf(out, "Backend: %s\n", describeKey(*status.Meta))
	default:
		fmt.Fprintln(out, "Backend: none")
	}
	return nil
}

func runKeyClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	local, err := openLocalState(cfg)
	if err != nil {
		return err
	}

	if keyOnServer {
		remote, err := signedInClient(local)
		if err != nil {
			return err
		}
		if err := remote.DeleteKey(cmd.Context()); err != nil {
			return fmt.Errorf("failed to remove key from the backend: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Removed from the backend")
	}

	local.credentials.Clear()
	if err := local.credentials.Save(cfg.DataDir()); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Removed locally")
	return nil
}

// keyArgument takes the key from args, or prompts for it on in.
func keyArgument(args []string, in io.Reader, out io.Writer) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}

	fmt.Fprint(out, "API key: ")
	key, err := readLine(in)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", errors.New("no key entered")
	}
	return key, nil
}

func signedInClient(local *localState) (*backend.Client, error) {
	account, err := local.account()
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, errors.New("not signed in, run lumen login first")
	}
	return backend.New(local.serverURL(), account.ID, nil), nil
}

func describeKey(meta credential.Meta) string {
	if meta.Length == 0 {
		return "none"
	}
	return fmt.Sprintf("%s (%d characters)", meta.Mask(), meta.Length)
}
