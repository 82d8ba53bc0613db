package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/upachar/libs/auth"
	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errUnknownUser = errors.New("no user with that email")

func newAdminCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage hospital admins and superusers",
	}

	var email string
	var hospitalID int64
	grantCmd := &cobra.Command{
		Use:   "grant",
		Short: "Make a user the admin of a hospital",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withPool(c.Context(), v, func(conn db.Conn) error {
				if err := grantHospitalAdmin(c.Context(), conn, email, hospitalID); err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "%s now administers hospital %d\n", normalizeEmail(email), hospitalID)
				return nil
			})
		},
	}
	grantCmd.Flags().StringVar(&email, "email", "", "user email")
	grantCmd.Flags().Int64Var(&hospitalID, "hospital-id", 0, "hospital id")
	_ = grantCmd.MarkFlagRequired("email")
	_ = grantCmd.MarkFlagRequired("hospital-id")

	var revokeEmail string
	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Remove a user's hospital admin role",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withPool(c.Context(), v, func(conn db.Conn) error {
				if err := revokeHospitalAdmin(c.Context(), conn, revokeEmail); err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "%s is a patient again\n", normalizeEmail(revokeEmail))
				return nil
			})
		},
	}
	revokeCmd.Flags().StringVar(&revokeEmail, "email", "", "user email")
	_ = revokeCmd.MarkFlagRequired("email")

	var superEmail string
	superCmd := &cobra.Command{
		Use:   "superuser",
		Short: "Promote a user to superuser",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withPool(c.Context(), v, func(conn db.Conn) error {
				if err := makeSuperuser(c.Context(), conn, superEmail); err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "%s is now a superuser\n", normalizeEmail(superEmail))
				return nil
			})
		},
	}
	superCmd.Flags().StringVar(&superEmail, "email", "", "user email")
	_ = superCmd.MarkFlagRequired("email")

	cmd.AddCommand(grantCmd, revokeCmd, superCmd)
	return cmd
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func grantHospitalAdmin(ctx context.Context, conn db.Conn, email string, hospitalID int64) error {
	if hospitalID <= 0 {
		return fmt.Errorf("--hospital-id must be positive")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID string
	err = tx.QueryRow(ctx, `
		UPDATE users SET role = $2
		WHERE email = $1
		RETURNING id::text
	`, normalizeEmail(email), auth.RoleHospitalAdmin).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", errUnknownUser, normalizeEmail(email))
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO hospital_admins (user_id, hospital_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET hospital_id = EXCLUDED.hospital_id
	`, userID, hospitalID)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("hospital %d does not exist", hospitalID)
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func revokeHospitalAdmin(ctx context.Context, conn db.Conn, email string) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID string
	err = tx.QueryRow(ctx, `
		UPDATE users SET role = $2
		WHERE email = $1 AND role = $3
		RETURNING id::text
	`, normalizeEmail(email), auth.RolePatient, auth.RoleHospitalAdmin).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s is not a hospital admin", normalizeEmail(email))
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM hospital_admins WHERE user_id = $1`, userID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func makeSuperuser(ctx context.Context, conn db.Conn, email string) error {
	tag, err := conn.Exec(ctx, `UPDATE users SET role = $2, is_active = true WHERE email = $1`, normalizeEmail(email), auth.RoleSuperuser)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", errUnknownUser, normalizeEmail(email))
	}
	return nil
}
