package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/sleepsync/sleepsync/internal/errors"
	"github.com/sleepsync/sleepsync/internal/models"
	"github.com/sleepsync/sleepsync/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var authorizeFlags struct {
	emails []string
	single bool
	reauth bool
}

// authorizeCmd represents the authorize command
var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Run the browser authorization flow for one or more users",
	Long: `Open the WHOOP consent page for each user, exchange the returned code
for tokens, look up the profile and store the credential.

Users that already have a credential are skipped unless --reauth is given.
When WHOOP_REDIRECT_URI points at this machine the redirect is received
automatically; otherwise paste the URL the browser lands on.

Example:
  sleepsync authorize --email a@example.com --email b@example.com
  sleepsync authorize --reauth --email a@example.com
  sleepsync authorize --single --email me@example.com`,
	RunE: runAuthorize,
}

func init() {
	authorizeCmd.Flags().StringSliceVar(&authorizeFlags.emails, "email", nil, "User to authorize (repeatable)")
	authorizeCmd.Flags().BoolVar(&authorizeFlags.single, "single", false, "Store into the single-user credential file")
	authorizeCmd.Flags().BoolVar(&authorizeFlags.reauth, "reauth", false, "Re-authorize users that already have a credential")
	RootCmd.AddCommand(authorizeCmd)
}

// AuthorizeResult is one user's authorization outcome.
type AuthorizeResult struct {
	Email   string `json:"email"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func runAuthorize(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	if err := a.cfg.RequireRedirect(); err != nil {
		return err
	}
	emails := normalizeEmails(authorizeFlags.emails)
	if len(emails) == 0 {
		return fmt.Errorf("at least one --email is required")
	}
	if authorizeFlags.single && len(emails) != 1 {
		return fmt.Errorf("--single takes exactly one --email")
	}

	ctx := cmd.Context()
	authorizer := a.authorizer(a.lifecycle())

	if authorizeFlags.single {
		single := store.NewSingleFileStore(a.cfg.Credentials.SinglePath)
		cred, err := authorizer.Authorize(ctx, emails[0])
		if err != nil {
			return err
		}
		if err := single.Save(ctx, cred); err != nil {
			return err
		}
		return outputAuthorize(cmd, []AuthorizeResult{authorized(cred, "authorized")})
	}

	st, err := a.credentialStore(false)
	if err != nil {
		return err
	}
	defer st.Close()

	set, err := st.LoadSet(ctx)
	if errors.Is(err, store.ErrNotFound) {
		set, err = models.CredentialSet{}, nil
	}
	if err != nil {
		return err
	}

	var results []AuthorizeResult
	var failures error
	for _, email := range emails {
		existing, ok := set[email]
		if ok && existing != nil && !authorizeFlags.reauth {
			results = append(results, AuthorizeResult{Email: email, Status: "SKIPPED", Message: "already authorized; use --reauth to replace"})
			continue
		}

		var cred *models.Credential
		if ok && existing != nil {
			cred, err = authorizer.Reauthorize(ctx, existing)
		} else {
			cred, err = authorizer.Authorize(ctx, email)
		}
		if err != nil {
			a.logger.ErrorWithContext(ctx, "authorization failed", "email", email, "error", err)
			results = append(results, AuthorizeResult{Email: email, Status: "FAIL", Message: err.Error()})
			failures = multierr.Append(failures, fmt.Errorf("%s: %w", email, err))
			continue
		}

		set[email] = cred
		// Saved per user so an interrupted session keeps earlier users.
		if err := st.SaveSet(ctx, set); err != nil {
			return err
		}
		status := "authorized"
		if ok {
			status = "re-authorized"
		}
		results = append(results, authorized(cred, status))
	}

	if err := outputAuthorize(cmd, results); err != nil {
		return err
	}
	return failures
}

func authorized(cred *models.Credential, status string) AuthorizeResult {
	msg := status + " as " + cred.DisplayName()
	if cred.WhoopUserID != "" {
		msg += fmt.Sprintf(" (user %s)", cred.WhoopUserID)
	}
	return AuthorizeResult{Email: cred.Email, Status: "OK", Message: msg}
}

func outputAuthorize(cmd *cobra.Command, results []AuthorizeResult) error {
	w := cmd.OutOrStdout()
	if globalFlags.JSON {
		return writeJSON(w, results)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tSTATUS\tMESSAGE")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Email, statusIcon(r.Status)+" "+r.Status, r.Message)
	}
	return tw.Flush()
}
