package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	iam "github.com/chimerakang/jobboard-iam"
	"github.com/chimerakang/jobboard-iam/authz"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	asJSON     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "jobboard",
		Short:         "Job board session and access tool",
		Long:          `Sign in to the job board, inspect the current identity and check which routes it may open.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./jobboard.yaml)")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON output")

	root.AddCommand(
		newLoginCmd(opts),
		newRegisterCmd(opts),
		newVerifyCmd(opts),
		newLogoutCmd(opts),
		newWhoAmICmd(opts),
		newCheckCmd(opts),
		newMenuCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// withApp loads config, wires the services and runs fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, app *App) error) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, cmd.ErrOrStderr())
	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()
	return fn(cmd.Context(), app)
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var req iam.LoginRequest
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.Password == "" {
				req.Password = os.Getenv("JOBBOARD_PASSWORD")
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				identity, err := app.Session.Login(ctx, req)
				if err != nil {
					return fmt.Errorf("login failed: %w", err)
				}
				return printIdentity(cmd.OutOrStdout(), identity, opts.asJSON)
			})
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password (or JOBBOARD_PASSWORD)")
	return cmd
}

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var req iam.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.Password == "" {
				req.Password = os.Getenv("JOBBOARD_PASSWORD")
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				identity, err := app.Session.Register(ctx, req)
				if errors.Is(err, iam.ErrVerificationPending) {
					fmt.Fprintf(cmd.OutOrStdout(), "check %s for a code, then run: jobboard verify --email %s --code <code>\n", req.Email, req.Email)
					return nil
				}
				if err != nil {
					return fmt.Errorf("registration failed: %w", err)
				}
				return printIdentity(cmd.OutOrStdout(), identity, opts.asJSON)
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "display name")
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password (or JOBBOARD_PASSWORD)")
	return cmd
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var req iam.VerifyRequest
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Confirm registration with the emailed code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				identity, err := app.Session.VerifyCode(ctx, req)
				if err != nil {
					return fmt.Errorf("verification failed: %w", err)
				}
				return printIdentity(cmd.OutOrStdout(), identity, opts.asJSON)
			})
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.Code, "code", "", "one-time code")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				if err := app.Session.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "signed out")
				return nil
			})
		},
	}
}

func newWhoAmICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				return printIdentity(cmd.OutOrStdout(), app.Session.Initialize(ctx), opts.asJSON)
			})
		},
	}
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>...",
		Short: "Evaluate route access for the stored credential",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				app.Session.Initialize(ctx)
				type result struct {
					Path     string `json:"path"`
					State    string `json:"state"`
					Redirect string `json:"redirect,omitempty"`
				}
				var results []result
				for _, path := range args {
					d := app.Guard.Check(ctx, path)
					results = append(results, result{Path: path, State: d.State.String(), Redirect: d.Redirect})
				}
				if opts.asJSON {
					return writeJSON(cmd.OutOrStdout(), results)
				}
				for _, r := range results {
					line := fmt.Sprintf("%-32s %s", r.Path, r.State)
					if r.Redirect != "" {
						line += " -> " + r.Redirect
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
}

func newMenuCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "List the admin pages the signed-in identity may open",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				identity := app.Session.Initialize(ctx)
				menu := authz.Visible(app.Guard.Policy(), identity, authz.AdminMenu())
				if opts.asJSON {
					return writeJSON(cmd.OutOrStdout(), menu)
				}
				printMenu(cmd.OutOrStdout(), menu, 0)
				return nil
			})
		},
	}
}

func printIdentity(w io.Writer, identity *iam.Identity, asJSON bool) error {
	if asJSON {
		return writeJSON(w, identity)
	}
	if identity == nil {
		fmt.Fprintln(w, "not signed in")
		return nil
	}
	fmt.Fprintf(w, "%s <%s>\n", identity.Name, identity.Email)
	fmt.Fprintf(w, "  id:     %s\n", identity.ID)
	fmt.Fprintf(w, "  status: %s\n", identity.Status)
	fmt.Fprintf(w, "  roles:  %s\n", strings.Join(identity.RoleNames(), ", "))
	if identity.Company != nil {
		fmt.Fprintf(w, "  company: %s\n", identity.Company.Name)
	}
	return nil
}

func printMenu(w io.Writer, items []authz.MenuItem, depth int) {
	for _, it := range items {
		fmt.Fprintf(w, "%s%s  %s\n", strings.Repeat("  ", depth), it.Title, it.Path)
		printMenu(w, it.Children, depth+1)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
