package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/asset"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/auth"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/boot"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/config"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/identity"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/logger"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/policy"
)

var tokenOpts struct {
	userID   string
	tenantID string
	email    string
	admin    bool
	grant    bool
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a development bearer token",
	Long: `Issue a signed bearer token for the given user and tenant.

With --grant a policy is also written to the tenant record store: admins get
every action on all tenant assets, other users get read access.`,
	RunE: runToken,
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenOpts.userID, "user", "", "user id (random when empty)")
	f.StringVar(&tokenOpts.tenantID, "tenant", "", "tenant id")
	f.StringVar(&tokenOpts.email, "email", "", "email claim")
	f.BoolVar(&tokenOpts.admin, "admin", false, "add the admin role")
	f.BoolVar(&tokenOpts.grant, "grant", false, "also write an asset policy for the user")
	_ = tokenCmd.MarkFlagRequired("tenant")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	rc, err := boot.ProvideRuntimeConfig(cfg)
	if err != nil {
		return err
	}

	user := identity.User{
		ID:       tokenOpts.userID,
		TenantID: tokenOpts.tenantID,
		Email:    tokenOpts.email,
		Roles:    []string{identity.RoleUser},
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if tokenOpts.admin {
		user.Roles = append(user.Roles, identity.RoleAdmin)
	}
	if err := user.Validate(); err != nil {
		return err
	}

	if tokenOpts.grant {
		if err := grantAssetPolicy(cmd.Context(), cfg, user); err != nil {
			return err
		}
	}

	token, expiresAt, err := auth.GenerateToken(rc.JWTSecret, user, rc.JWTExpiresIn)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "user:    %s\n", user.ID)
	fmt.Fprintf(out, "expires: %s\n", expiresAt.Format(time.RFC3339))
	fmt.Fprintln(out, token)
	return nil
}

func grantAssetPolicy(ctx context.Context, cfg config.Config, user identity.User) error {
	stores, err := openRecordStores(ctx, logger.L, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = stores.Close()
	}()

	gate := policy.NewService(logger.L, stores.Tenant)
	p, err := gate.CreatePolicy(ctx, user.ID)
	if err != nil {
		return err
	}
	actions := []policy.Action{policy.ActionRead}
	if user.HasRole(identity.RoleAdmin) {
		actions = []policy.Action{"*"}
	}
	resource := asset.Resource(user, "*")
	if err := gate.Grant(ctx, p, actions, resource, policy.EffectAllow); err != nil {
		return err
	}
	logger.L.Info("policy granted",
		slog.String("user", user.ID),
		slog.String("resource", resource),
		slog.Any("actions", actions),
	)
	return nil
}
