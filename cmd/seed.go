package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/config"
	"github.com/jmehdipour/imagegen-gateway/internal/db"
	"github.com/jmehdipour/imagegen-gateway/internal/logger"
	"github.com/jmehdipour/imagegen-gateway/internal/model"
	"github.com/jmehdipour/imagegen-gateway/internal/repository"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo profiles and subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		logger.Log.Info("seeding demo profiles")

		n, err := seedDemo(cmd.Context(),
			repository.NewProfilesRepository(sqlDB),
			repository.NewSubscriptionsRepository(sqlDB))
		if err != nil {
			return err
		}

		logger.Log.Info("seed completed", zap.Int("profiles", n))
		return nil
	},
}

type demoUser struct {
	id     string
	email  string
	name   string
	status model.SubscriptionStatus // empty: no subscription row
}

var demoUsers = []demoUser{
	{id: "00000000-0000-0000-0000-000000000001", email: "subscriber@example.com", name: "Active Subscriber", status: model.SubscriptionActive},
	{id: "00000000-0000-0000-0000-000000000002", email: "pastdue@example.com", name: "Past Due", status: model.SubscriptionPastDue},
	{id: "00000000-0000-0000-0000-000000000003", email: "cancelled@example.com", name: "Cancelled", status: model.SubscriptionCancelled},
	{id: "00000000-0000-0000-0000-000000000004", email: "free@example.com", name: "Free Tier"},
}

// seedDemo upserts deterministic demo users (idempotent).
func seedDemo(ctx context.Context, profiles repository.ProfilesRepository, subs repository.SubscriptionsRepository) (int, error) {
	now := time.Now().UTC()
	end := now.AddDate(0, 1, 0)

	for i, u := range demoUsers {
		err := profiles.Upsert(ctx, model.Profile{
			ID:       u.id,
			Email:    sql.NullString{String: u.email, Valid: true},
			FullName: sql.NullString{String: u.name, Valid: true},
		})
		if err != nil {
			return i, fmt.Errorf("upsert profile %s: %w", u.email, err)
		}

		if u.status == "" {
			continue
		}
		err = subs.Upsert(ctx, model.Subscription{
			UserID:               u.id,
			StripeCustomerID:     fmt.Sprintf("cus_demo_%d", i+1),
			StripeSubscriptionID: fmt.Sprintf("sub_demo_%d", i+1),
			Status:               u.status,
			CurrentPeriodStart:   &now,
			CurrentPeriodEnd:     &end,
		})
		if err != nil {
			return i, fmt.Errorf("upsert subscription %s: %w", u.email, err)
		}
	}
	return len(demoUsers), nil
}
