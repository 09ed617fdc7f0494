package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xhad/concierge/internal/models"
	"github.com/xhad/concierge/internal/types"
	"github.com/xhad/concierge/pkg/auth"
)

var seedOpts struct {
	tenantName string
	slug       string
	language   string
	email      string
	password   string
}

var seedAdminCmd = &cobra.Command{
	Use:   "seed-admin",
	Short: "Create a tenant with an owner account and a widget key",
	Long: `Create a tenant, its owner and a first widget key. Does nothing when a user
with the email already exists.`,
	RunE: runSeedAdmin,
}

func init() {
	seedAdminCmd.Flags().StringVar(&seedOpts.tenantName, "tenant-name", "Demo Hotel", "Tenant display name")
	seedAdminCmd.Flags().StringVar(&seedOpts.slug, "slug", "demo-hotel", "Tenant slug")
	seedAdminCmd.Flags().StringVar(&seedOpts.language, "language", "sv", "Tenant default language")
	seedAdminCmd.Flags().StringVar(&seedOpts.email, "email", "", "Owner email (required)")
	seedAdminCmd.Flags().StringVar(&seedOpts.password, "password", "", "Owner password (required)")
	seedAdminCmd.MarkFlagRequired("email")
	seedAdminCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(seedAdminCmd)
}

func runSeedAdmin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := buildComponents(ctx, 0)
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.store.GetUserByEmail(ctx, seedOpts.email); err == nil {
		color.Yellow("User %s already exists, nothing to do", seedOpts.email)
		return nil
	} else if !types.IsNotFound(err) {
		return err
	}

	hash, err := auth.HashPassword(seedOpts.password)
	if err != nil {
		return err
	}

	tenant, err := c.store.CreateTenant(ctx, seedOpts.tenantName, seedOpts.slug, seedOpts.language)
	if err != nil {
		return err
	}
	user, err := c.store.CreateUser(ctx, seedOpts.email, hash)
	if err != nil {
		return err
	}
	if err := c.store.AssignRole(ctx, tenant.ID, user.ID, models.RoleOwner); err != nil {
		return err
	}
	key, err := c.store.CreateWidgetKey(ctx, tenant.ID)
	if err != nil {
		return err
	}

	logger.Info("admin.seeded", "tenant_id", tenant.ID, "user_id", user.ID)
	color.Green("✓ Created tenant %s (%s)", tenant.Name, tenant.ID)
	color.Green("✓ Created owner %s", user.Email)
	fmt.Printf("Widget key: %s\n", key.Key)
	return nil
}
