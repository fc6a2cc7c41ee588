package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/harrylevesque/controlx/internal/auth"
	"github.com/harrylevesque/controlx/internal/models"
	"github.com/harrylevesque/controlx/internal/store"
)

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts allowed to call /api/",
	}
	cmd.AddCommand(
		newUserAddCmd(a),
		newUserListCmd(a),
		newUserRemoveCmd(a),
		newUserPasswdCmd(a),
		newUserRoleCmd(a),
	)
	return cmd
}

func newUserAddCmd(a *app) *cobra.Command {
	var password, role string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user with a bcrypt-hashed password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				p, err := a.readPassword("Password: ")
				if err != nil {
					return err
				}
				password = p
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			return a.withStore(cmd.Context(), func(db *store.DB) error {
				u := &models.User{Username: args[0], Password: hash, Role: role}
				if err := db.Users().Create(cmd.Context(), u); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Created user %s (%s)\n", u.Username, u.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	cmd.Flags().StringVarP(&role, "role", "r", models.RoleUser, "role: admin or user")
	return cmd
}

func newUserListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List users",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(db *store.DB) error {
				users, err := db.Users().List(cmd.Context())
				if err != nil {
					return err
				}
				t := a.table("ID", "Username", "Role", "Password", "Created")
				for _, u := range users {
					stored := "bcrypt"
					if !auth.IsHashed(u.Password) {
						stored = "plain"
					}
					if err := t.Append(strconv.FormatInt(u.ID, 10), u.Username, u.Role, stored, u.CreatedAt.Format("2006-01-02 15:04")); err != nil {
						return err
					}
				}
				return t.Render()
			})
		},
	}
}

func newUserRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <username>",
		Aliases: []string{"remove"},
		Short:   "Delete a user",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(db *store.DB) error {
				if err := db.Users().Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted user %s\n", args[0])
				return nil
			})
		},
	}
}

func newUserPasswdCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Replace a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				p, err := a.readPassword("New password: ")
				if err != nil {
					return err
				}
				password = p
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			return a.withStore(cmd.Context(), func(db *store.DB) error {
				if err := db.Users().SetPassword(cmd.Context(), args[0], hash); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Password updated for %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "new password (prompted when omitted)")
	return cmd
}

func newUserRoleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "role <username> <admin|user>",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(db *store.DB) error {
				if err := db.Users().SetRole(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s is now %s\n", args[0], args[1])
				return nil
			})
		},
	}
}
