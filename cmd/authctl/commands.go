package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"edgauth.org/internal/app"
	"edgauth.org/internal/auth"
	"edgauth.org/internal/config"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Administrative tooling for edg-auth",
		SilenceUsage:  true,
	}
	cmd.AddCommand(
		newGenPasswordCommand(),
		newHashPasswordCommand(),
		newCheckPermissionCommand(),
		newParseDurationCommand(),
		newSweepCommand(),
		newSeedRolesCommand(),
	)
	return cmd
}

func newGenPasswordCommand() *cobra.Command {
	var length int
	cmd := &cobra.Command{
		Use:   "gen-password",
		Short: "Generate a random password that satisfies the policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := auth.GeneratePassword(length)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pw)
			return nil
		},
	}
	cmd.Flags().IntVarP(&length, "length", "l", 16, "password length")
	return cmd
}

func newHashPasswordCommand() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Hash a password with bcrypt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pm := auth.NewPasswordManager(auth.WithBcryptCost(cost))
			if res := pm.ValidatePolicy(args[0]); !res.OK {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: policy violations: %s\n", strings.Join(res.Violations, ", "))
			}
			hash, err := pm.Hash(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", auth.DefaultBcryptCost, "bcrypt cost")
	return cmd
}

func newCheckPermissionCommand() *cobra.Command {
	var perms []string
	cmd := &cobra.Command{
		Use:   "check-permission <module> <action>",
		Short: "Evaluate a permission set against module.action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range perms {
				if !auth.ValidPermission(p) {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %q is not a valid permission and is ignored\n", p)
				}
			}
			verdict := "deny"
			if auth.NewPermissionSet(perms).Allows(args[0], args[1]) {
				verdict = "allow"
			}
			fmt.Fprintln(cmd.OutOrStdout(), verdict)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&perms, "perm", "p", nil, "permission string (repeatable)")
	return cmd
}

func newParseDurationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-duration <spec>",
		Short: "Validate a token lifetime such as 15m, 12h or 7d",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := auth.ParseDuration(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), d)
			return nil
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions and reset tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				report, err := a.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d sessions, %d reset tokens\n", report.Sessions, report.ResetTokens)
				return nil
			})
		},
	}
}

func newSeedRolesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-roles",
		Short: "Install or refresh the built-in roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				roles, err := a.Roles.SeedDefaults(cmd.Context())
				if err != nil {
					return err
				}
				for _, r := range roles {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", r.ID, r.Name)
				}
				return nil
			})
		},
	}
}

func withApp(ctx context.Context, fn func(*app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
