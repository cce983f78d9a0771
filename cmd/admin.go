// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var organizationCmd = &cobra.Command{
	Use:   "organization",
	Short: "Operate on organizations as an administrator",
}

var deleteOrganizationCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete an organization, cancelling its subscription first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAdminClient(cmd.Context())
		if err != nil {
			return err
		}

		if err := client.DeleteOrganization(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete organization: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Organization deleted: %s\n", args[0])
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Operate on user accounts as an administrator",
}

var deleteUserCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a user, their owned organizations and their identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAdminClient(cmd.Context())
		if err != nil {
			return err
		}

		if err := client.DeleteUser(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "User deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	organizationCmd.AddCommand(deleteOrganizationCmd)
	userCmd.AddCommand(deleteUserCmd)

	rootCmd.AddCommand(organizationCmd)
	rootCmd.AddCommand(userCmd)
}
