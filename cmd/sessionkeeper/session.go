// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/scribeline/sessionkeeper/internal/lifecycle"
	"github.com/scribeline/sessionkeeper/internal/session"
	"github.com/scribeline/sessionkeeper/internal/transport"
)

// loginConfig holds configuration for the login and register commands.
type loginConfig struct {
	username string
	email    string
}

func newLoginCmd(deps *Deps) *cobra.Command {
	cfg := &loginConfig{}

	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Sign in and store the session credential",
		Long: `Sign in with a username and password. The password is read from the
terminal without echo, or from the first line of standard input when it
is not a terminal.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.username = args[0]
			}
			return runLogin(cmd, cfg, deps)
		},
	}

	cmd.Flags().StringVarP(&cfg.username, "username", "u", "", "account username")

	return cmd
}

func runLogin(cmd *cobra.Command, cfg *loginConfig, deps *Deps) error {
	if cfg.username == "" {
		return oops.Code("CLI_USAGE").Errorf("username is required")
	}
	password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
	if err != nil {
		return err
	}

	a, err := openApp(cmd, deps)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ctrl.Login(cmd.Context(), lifecycle.Credentials{Username: cfg.username, Password: password}); err != nil {
		return err
	}
	id, _ := a.ctrl.View().Identity()
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", id.Username)
	return nil
}

func newRegisterCmd(deps *Deps) *cobra.Command {
	cfg := &loginConfig{}

	cmd := &cobra.Command{
		Use:   "register [username]",
		Short: "Create an account and sign in with it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.username = args[0]
			}
			return runRegister(cmd, cfg, deps)
		},
	}

	cmd.Flags().StringVarP(&cfg.username, "username", "u", "", "account username")
	cmd.Flags().StringVar(&cfg.email, "email", "", "account email address")

	return cmd
}

func runRegister(cmd *cobra.Command, cfg *loginConfig, deps *Deps) error {
	if cfg.username == "" {
		return oops.Code("CLI_USAGE").Errorf("username is required")
	}
	if cfg.email == "" {
		return oops.Code("CLI_USAGE").Errorf("email is required")
	}
	password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
	if err != nil {
		return err
	}

	a, err := openApp(cmd, deps)
	if err != nil {
		return err
	}
	defer a.Close()

	reg := lifecycle.Registration{Username: cfg.username, Email: cfg.email, Password: password}
	if err := a.ctrl.Register(cmd.Context(), reg); err != nil {
		return err
	}
	id, _ := a.ctrl.View().Identity()
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered and logged in as %s\n", id.Username)
	return nil
}

func newLogoutCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, deps)
			if err != nil {
				return err
			}
			defer a.Close()

			// A dead credential is fine here; logout clears it either way.
			_ = a.ctrl.Initialize(cmd.Context())
			if err := a.ctrl.Logout(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

// whoamiConfig holds configuration for the whoami command.
type whoamiConfig struct {
	format string
}

func newWhoamiCmd(deps *Deps) *cobra.Command {
	cfg := &whoamiConfig{}

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity of the stored session",
		Long: `Resolve the stored credential against the API and print the identity
it belongs to. Exits non-zero when no session is active.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWhoami(cmd, cfg, deps)
		},
	}

	cmd.Flags().StringVarP(&cfg.format, "format", "o", "text", "output format (text, json, yaml)")

	return cmd
}

func runWhoami(cmd *cobra.Command, cfg *whoamiConfig, deps *Deps) error {
	switch cfg.format {
	case "text", "json", "yaml":
	default:
		return oops.Code("CLI_USAGE").With("format", cfg.format).Errorf("unknown output format %q", cfg.format)
	}

	a, err := openApp(cmd, deps)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ctrl.Initialize(cmd.Context()); err != nil {
		if transport.KindOf(err) == transport.KindNetwork {
			return oops.Code("CLI_API_UNREACHABLE").With("url", a.cfg.API.BaseURL).Wrapf(err, "cannot reach the API")
		}
		return oops.Code("CLI_NOT_LOGGED_IN").Wrapf(err, "not logged in")
	}
	id, ok := a.ctrl.View().Identity()
	if !ok {
		return oops.Code("CLI_NOT_LOGGED_IN").Errorf("not logged in")
	}

	out, err := formatIdentity(id, cfg.format)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func formatIdentity(id session.Identity, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(id, "", "  ")
		if err != nil {
			return "", oops.Code("CLI_ENCODE_FAILED").Wrap(err)
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(id)
		if err != nil {
			return "", oops.Code("CLI_ENCODE_FAILED").Wrap(err)
		}
		return string(data), nil
	default:
		active := "yes"
		if !id.IsActive {
			active = "no"
		}
		return fmt.Sprintf("%s <%s> (id %d, active: %s)\n", id.Username, id.Email, id.ID, active), nil
	}
}

// readPassword prompts without echo when in is a terminal and otherwise
// reads the first line of in.
func readPassword(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(prompt, label)
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(prompt)
		if err != nil {
			return "", oops.Code("CLI_PASSWORD_READ").Wrap(err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", oops.Code("CLI_PASSWORD_READ").Wrapf(err, "no password on standard input")
	}
	return strings.TrimRight(line, "\r\n"), nil
}
