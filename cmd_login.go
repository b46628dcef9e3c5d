package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lumen/backend"
	"lumen/config"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with Google through the backend",
	Long: `Prints the backend's sign-in page. After signing in with Google the
page shows a sessionId; paste it here to link this client to your account.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the backend session and forget it locally",
	RunE:  runLogout,
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	local, err := openLocalState(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	serverURL := local.serverURL()

	fmt.Fprintf(out, "Open this page and sign in with Google:\n\n  %s\n\n", backend.New(serverURL, "", nil).LoginURL())
	fmt.Fprint(out, "Paste the sessionId shown after signing in: ")

	sessionID, err := readLine(cmd.InOrStdin())
	if err != nil {
		return err
	}
	sessionID = strings.Trim(sessionID, `"`)
	if sessionID == "" {
		return errors.New("no session id entered")
	}

	account, err := backend.New(serverURL, sessionID, nil).Me(cmd.Context())
	if err != nil {
		return fmt.Errorf("could not verify session: %w", err)
	}

	if err := local.sessionFile.Save(&config.ClientSession{
		ID:        account.SessionID,
		Email:     account.Email,
		CreatedAt: time.Now(),
	}); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nSigned in as %s\n", account.Email)
	if local.credentials.Key() == "" {
		fmt.Fprintln(out, "No API key stored yet. Add one with: lumen key set")
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	local, err := openLocalState(cfg)
	if err != nil {
		return err
	}

	account, err := local.account()
	if err != nil {
		return err
	}
	if account == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
		return nil
	}

	// An expired session is already gone on the server.
	err = backend.New(local.serverURL(), account.ID, nil).Logout(cmd.Context())
	if err != nil && !errors.Is(err, backend.ErrNotSignedIn) {
		return fmt.Errorf("failed to end session: %w", err)
	}

	if err := local.sessionFile.Clear(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Signed out %s\n", account.Email)
	return nil
}

// readLine reads one trimmed line. A final line without a newline counts.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
