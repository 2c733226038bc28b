package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sleepsync/sleepsync/internal/auth"
	"github.com/sleepsync/sleepsync/internal/errors"
	"github.com/sleepsync/sleepsync/internal/models"
	"github.com/sleepsync/sleepsync/internal/store"
	"github.com/spf13/cobra"
)

var tokenFlags struct {
	email string
}

// tokenCmd groups the token commands
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect or refresh a stored token",
	Long: `Work with one stored credential. By default this is the single-user
credential file; --email selects a user from the batch credential store.`,
}

var tokenStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show expiry of the stored token without calling the API",
	RunE:  runTokenStatus,
}

var tokenRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the token now and store the result",
	RunE:  runTokenRefresh,
}

var tokenTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Probe the token, refreshing it if it no longer works",
	RunE:  runTokenTest,
}

func init() {
	tokenCmd.PersistentFlags().StringVar(&tokenFlags.email, "email", "", "User in the batch credential store")
	tokenCmd.AddCommand(tokenStatusCmd, tokenRefreshCmd, tokenTestCmd)
	RootCmd.AddCommand(tokenCmd)
}

// storedToken is one credential plus the way to write it back.
type storedToken struct {
	cred *models.Credential
	save func(ctx context.Context) error
	done func() error
}

func (a *app) loadToken(ctx context.Context, email string) (*storedToken, error) {
	if email == "" {
		single := store.NewSingleFileStore(a.cfg.Credentials.SinglePath)
		cred, err := single.Load(ctx)
		if err != nil {
			return nil, tokenLoadError(err, a.cfg.Credentials.SinglePath)
		}
		return &storedToken{
			cred: cred,
			save: func(ctx context.Context) error { return single.Save(ctx, cred) },
			done: func() error { return nil },
		}, nil
	}

	st, err := a.credentialStore(false)
	if err != nil {
		return nil, err
	}
	set, err := st.LoadSet(ctx)
	if err != nil {
		st.Close()
		return nil, tokenLoadError(err, "credential store")
	}
	cred, ok := set[email]
	if !ok || cred == nil {
		st.Close()
		return nil, fmt.Errorf("no stored credential for %s", email)
	}
	return &storedToken{
		cred: cred,
		save: func(ctx context.Context) error { return st.SaveSet(ctx, set) },
		done: st.Close,
	}, nil
}

func tokenLoadError(err error, source string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no credential in %s; run `sleepsync authorize` first", source)
	}
	return err
}

func runTokenStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	tok, err := a.loadToken(cmd.Context(), tokenFlags.email)
	if err != nil {
		return err
	}
	defer tok.done()
	return outputToken(a.out, tok.cred, "", time.Now())
}

func runTokenRefresh(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	if err := a.cfg.RequireClient(); err != nil {
		return err
	}
	ctx := cmd.Context()
	tok, err := a.loadToken(ctx, tokenFlags.email)
	if err != nil {
		return err
	}
	defer tok.done()

	if !tok.cred.HasRefreshToken() {
		return fmt.Errorf("%s: %w", tok.cred.Email, errors.ErrNoRefreshToken)
	}
	if err := a.lifecycle().Refresh(ctx, tok.cred); err != nil {
		return err
	}
	if err := tok.save(ctx); err != nil {
		return err
	}
	return outputToken(a.out, tok.cred, "refreshed", time.Now())
}

func runTokenTest(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	if err := a.cfg.RequireClient(); err != nil {
		return err
	}
	ctx := cmd.Context()
	tok, err := a.loadToken(ctx, tokenFlags.email)
	if err != nil {
		return err
	}
	defer tok.done()

	state, ensureErr := a.lifecycle().Ensure(ctx, tok.cred)
	if state == auth.Refreshed {
		if err := tok.save(ctx); err != nil {
			return err
		}
	}
	if err := outputToken(a.out, tok.cred, state.String(), time.Now()); err != nil {
		return err
	}
	if ensureErr != nil {
		return fmt.Errorf("%s: %w; run `sleepsync authorize --reauth --email %s`", state, ensureErr, tok.cred.Email)
	}
	return nil
}

// TokenInfo is the printable view of a stored credential. Secrets are
// never included.
type TokenInfo struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	ExpiresAt       string `json:"expires_at"`
	Remaining       string `json:"remaining"`
	Expired         bool   `json:"expired"`
	HasRefreshToken bool   `json:"has_refresh_token"`
	State           string `json:"state,omitempty"`
}

func newTokenInfo(cred *models.Credential, state string, now time.Time) TokenInfo {
	info := TokenInfo{
		Email:           cred.Email,
		Name:            cred.DisplayName(),
		Remaining:       cred.Remaining(now).Round(time.Second).String(),
		Expired:         cred.Expired(now),
		HasRefreshToken: cred.HasRefreshToken(),
		State:           state,
	}
	if !cred.ExpiresAt.IsZero() {
		info.ExpiresAt = models.FormatTimestamp(cred.ExpiresAt)
	}
	return info
}

func outputToken(w io.Writer, cred *models.Credential, state string, now time.Time) error {
	info := newTokenInfo(cred, state, now)
	if globalFlags.JSON {
		return writeJSON(w, info)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Email:\t%s\n", info.Email)
	fmt.Fprintf(tw, "Name:\t%s\n", info.Name)
	if info.State != "" {
		fmt.Fprintf(tw, "State:\t%s\n", info.State)
	}
	expires := info.ExpiresAt
	if expires == "" {
		expires = "unknown"
	}
	fmt.Fprintf(tw, "Expires at:\t%s\n", expires)
	fmt.Fprintf(tw, "Remaining:\t%s\n", info.Remaining)
	fmt.Fprintf(tw, "Expired:\t%t\n", info.Expired)
	fmt.Fprintf(tw, "Refresh token:\t%t\n", info.HasRefreshToken)
	return tw.Flush()
}
