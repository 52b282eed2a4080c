package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"school-library/config"
	"school-library/library"
)

// app is the state shared by every command.
type app struct {
	cfg    config.App
	dbPath string
	as     string
	log    *slog.Logger
	lm     *library.LibraryManager
	p      library.Principal
}

func main() {
	a := &app{}
	root := a.rootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", describe(err))
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "school-library",
		Short:         "School library circulation and fine management",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			if a.dbPath == "" {
				a.dbPath = cfg.DBPath
			}
			if a.log == nil {
				a.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			}
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.lm != nil {
				return a.lm.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "path to the SQLite database (default $LIBRARY_DB or library.db)")
	root.PersistentFlags().StringVar(&a.as, "as", "", "login id to act as; the password is read from $LIBRARY_PASSWORD or prompted")

	root.AddCommand(
		a.serveCmd(),
		a.setupCmd(),
		a.userCmd(),
		a.bookCmd(),
		a.borrowCmd(),
		a.returnCmd(),
		a.renewCmd(),
		a.lostCmd(),
		a.loansCmd(),
		a.reserveCmd(),
		a.reservationsCmd(),
		a.fulfillCmd(),
		a.cancelReservationCmd(),
		a.finesCmd(),
		a.assessCmd(),
		a.payCmd(),
		a.letterCmd(),
		a.statsCmd(),
		a.housekeepingCmd(),
	)
	return root
}

func (a *app) open(opts ...library.Option) error {
	if a.lm != nil {
		return nil
	}
	lm, err := library.NewLibraryManager(a.dbPath, append([]library.Option{library.WithLogger(a.log)}, opts...)...)
	if err != nil {
		return err
	}
	a.lm = lm
	return nil
}

// session opens the database and signs in the --as user.
func (a *app) session(ctx context.Context) error {
	if err := a.open(); err != nil {
		return err
	}
	if a.as == "" {
		return fmt.Errorf("--as <login id> is required for this command")
	}
	password := os.Getenv("LIBRARY_PASSWORD")
	if password == "" {
		var err error
		if password, err = readPassword(fmt.Sprintf("Password for %s: ", a.as)); err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
	}
	p, err := a.lm.Authenticate(ctx, a.as, password)
	if err != nil {
		return err
	}
	a.p = p
	return nil
}

// userID resolves a login id, defaulting to the signed-in user.
func (a *app) userID(ctx context.Context, login string) (int64, error) {
	if login == "" || login == a.as {
		return a.p.UserID, nil
	}
	u, err := a.lm.GetUserByLogin(ctx, a.p, login)
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(os.Stderr)
	return strings.TrimSpace(string(bytePassword)), nil
}

// describe turns a library error into its user-facing message and code.
func describe(err error) string {
	if code := library.CodeOf(err); code != "" {
		return fmt.Sprintf("%s (%s)", err.Error(), code)
	}
	return err.Error()
}

func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return s[:maxLength]
	}
	return s[:maxLength-3] + "..."
}
