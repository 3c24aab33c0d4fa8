package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bookmarker/bookmarker-go/internal/credstore"
	"github.com/bookmarker/bookmarker-go/internal/session"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save the session",
		Long: `Sign in with a username and password. The password is read without echo
when stdin is a terminal, otherwise as one line from stdin.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().StringP("username", "u", "", "username (prompted if omitted)")

	return cmd
}

func newRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account (does not sign in)",
		Args:  cobra.NoArgs,
		RunE:  runRegister,
	}

	cmd.Flags().StringP("username", "u", "", "username (prompted if omitted)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and remove the saved credential",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session state, credential age, and service URL",
		Long: `Show the local session state without calling the service: whether a
credential is saved, how old it is, when the access token expires, and which
service URL is in use.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// prompter reads answers from stdin, hiding input for secrets when stdin is
// a terminal.
type prompter struct {
	cc     *CLIContext
	reader *bufio.Reader
}

func newPrompter(cc *CLIContext) *prompter {
	return &prompter{cc: cc, reader: bufio.NewReader(cc.In)}
}

func (p *prompter) line(label string) (string, error) {
	fmt.Fprint(p.cc.Err, label)

	// End of input ends the answer.
	s, err := p.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.TrimSpace(label), ":"), err)
	}

	return strings.TrimRight(s, "\r\n"), nil
}

func (p *prompter) secret(label string) (string, error) {
	f, ok := p.cc.In.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return p.line(label)
	}

	fmt.Fprint(p.cc.Err, label)

	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(p.cc.Err)

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return string(b), nil
}

// credentials collects a username (from --username or a prompt) and a
// password.
func credentials(cmd *cobra.Command, cc *CLIContext) (string, string, error) {
	p := newPrompter(cc)

	username, err := cmd.Flags().GetString("username")
	if err != nil {
		return "", "", err
	}

	if username == "" {
		if username, err = p.line("Username: "); err != nil {
			return "", "", err
		}
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return "", "", errors.New("username must not be empty")
	}

	password, err := p.secret("Password: ")
	if err != nil {
		return "", "", err
	}

	if password == "" {
		return "", "", errors.New("password must not be empty")
	}

	return username, password, nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	username, password, err := credentials(cmd, cc)
	if err != nil {
		return err
	}

	res, err := cc.Client.Login(cmd.Context(), username, password)
	if err != nil {
		return err
	}

	if !res.OK {
		return errors.New(res.Message)
	}

	cc.Statusf("Logged in as %s.\n", username)

	return nil
}

func runRegister(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	username, password, err := credentials(cmd, cc)
	if err != nil {
		return err
	}

	res, err := cc.Client.Register(cmd.Context(), username, password)
	if err != nil {
		return err
	}

	if !res.OK {
		return errors.New(res.Message)
	}

	cc.Statusf("Account %s created. Run 'bookmarker login' to sign in.\n", username)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := cc.Client.Logout(cmd.Context()); err != nil {
		return err
	}

	cc.Statusf("Logged out.\n")

	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	user, err := cc.Client.Me(cmd.Context())
	if err != nil {
		return requireLogin(err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, user)
	}

	fmt.Fprintf(cc.Out, "User:    %s\n", user.Username)
	fmt.Fprintf(cc.Out, "ID:      %d\n", user.ID)
	fmt.Fprintf(cc.Out, "Since:   %s\n", formatTime(user.CreatedAt.Time))

	return nil
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	State         string     `json:"state"`
	BaseURL       string     `json:"base_url"`
	Configured    bool       `json:"configured"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
	AccessExpires *time.Time `json:"access_expires,omitempty"`
	RenewDue      bool       `json:"renew_due"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	state, err := cc.Client.State(ctx)
	if err != nil {
		return err
	}

	out := statusOutput{
		State:      state.String(),
		BaseURL:    cc.BaseURL,
		Configured: credstore.IsConfigured(cc.BaseURL),
	}

	cred, err := cc.Creds.Load(ctx)
	if err != nil {
		return err
	}

	if cred != nil {
		issued := cred.IssuedAt
		out.IssuedAt = &issued
		out.RenewDue = cred.Age(time.Now()) > cc.Cfg.RenewalThreshold()

		if exp, ok := session.AccessTokenExpiry(cred.AccessToken); ok {
			out.AccessExpires = &exp
		}
	}

	cc.Logger.Debug("status", slog.String("state", out.State))

	if cc.Flags.JSON {
		return printJSON(cc.Out, out)
	}

	printStatusText(cc, &out)

	return nil
}

func printStatusText(cc *CLIContext, out *statusOutput) {
	w := cc.Out

	switch out.State {
	case session.LoggedOut.String():
		fmt.Fprintf(w, "Session:  %s\n", colorWarn.Sprint("logged out"))
	default:
		fmt.Fprintf(w, "Session:  %s\n", colorOK.Sprint("logged in"))
	}

	service := out.BaseURL
	if !out.Configured {
		service += colorWarn.Sprint(" (not configured, run 'bookmarker config set-url')")
	}

	fmt.Fprintf(w, "Service:  %s\n", service)

	if out.IssuedAt != nil {
		age := time.Since(*out.IssuedAt).Truncate(time.Second)
		line := fmt.Sprintf("%s (%s ago)", formatTime(*out.IssuedAt), age)

		if out.RenewDue {
			line += colorWarn.Sprint(", renewal due")
		}

		fmt.Fprintf(w, "Issued:   %s\n", line)
	}

	if out.AccessExpires != nil {
		exp := *out.AccessExpires
		if time.Now().After(exp) {
			fmt.Fprintf(w, "Expires:  %s\n", colorWarn.Sprintf("%s (expired, renews on next use)", formatTime(exp)))
		} else {
			fmt.Fprintf(w, "Expires:  %s\n", formatTime(exp))
		}
	}
}
