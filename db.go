package main

import (
	"context"
	"fmt"
	"os"

	"dhfinance/models"
	"dhfinance/pkg/logging"
	"dhfinance/pkg/services"
)

const (
	adminUsername = "admin"
	demoUsername  = "demo"
	demoPassword  = "demo123"
	demoEmail     = "demo@dhfinance.com"
)

// seed ensures the master roles, the optional admin and demo accounts and the
// upload directory exist. It is safe to run on every start.
func (a *app) seed(ctx context.Context) error {
	for _, r := range models.DefaultRoles() {
		if _, err := a.store.EnsureRole(ctx, r.Name, r.Description); err != nil {
			return fmt.Errorf("seed role %s: %w", r.Name, err)
		}
	}

	if a.cfg.AdminPassword != "" {
		_, created, err := a.auth.EnsureUser(ctx, adminUsername, a.cfg.AdminPassword, "", models.RoleAdministrator)
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		if created {
			a.log.InfoContext(ctx, "seeded admin user", logging.FieldOwner, adminUsername)
		}
	}

	if a.cfg.DemoSeed {
		u, created, err := a.auth.EnsureUser(ctx, demoUsername, demoPassword, demoEmail, models.RoleUser)
		if err != nil {
			return fmt.Errorf("seed demo user: %w", err)
		}
		if created {
			a.log.InfoContext(ctx, "seeded demo user", logging.FieldOwner, demoUsername)
		}
		if _, err := a.ledger.SeedDemo(ctx, services.Owner{ID: u.ID, Username: u.Username}); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(a.cfg.UploadBase, 0o755); err != nil {
		return fmt.Errorf("create upload dir %s: %w", a.cfg.UploadBase, err)
	}
	return nil
}
