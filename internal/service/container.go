package service

import (
	"context"

	"github.com/Kmccabe/bTree-sub000/internal/config"
	"github.com/Kmccabe/bTree-sub000/internal/fanout"
	"github.com/Kmccabe/bTree-sub000/internal/service/admin"
	"github.com/Kmccabe/bTree-sub000/internal/service/archive"
	"github.com/Kmccabe/bTree-sub000/internal/service/experiment"
	"github.com/Kmccabe/bTree-sub000/internal/service/game"
	"github.com/Kmccabe/bTree-sub000/internal/service/payout"
	"github.com/Kmccabe/bTree-sub000/internal/store"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	Store *store.Store
	Hub   *fanout.Hub

	Experiment *experiment.Service
	Game       *game.Service
	Admin      *admin.Service
	Archive    *archive.Service
	Payout     *payout.Service
}

func NewContainer(st *store.Store, hub *fanout.Hub, db *gorm.DB, rdb *redis.Client) *Container {
	cfg := config.GlobalConfig

	archiveSvc := archive.NewService(db)
	payoutSvc := payout.NewService(rdb)

	gameSvc := game.NewService(st, hub, game.Config{
		EnforceDecisionTimeout: cfg.Game.EnforceDecisionTimeout,
	}, archiveSvc, payoutSvc)

	expSvc := experiment.NewService(st, hub, gameSvc, experiment.Config{
		ReaperInterval:  cfg.Game.ReaperInterval,
		PresenceTimeout: cfg.Game.PresenceTimeout,
		StartDelay:      cfg.Game.StartDelay,
	})

	return &Container{
		Store:      st,
		Hub:        hub,
		Experiment: expSvc,
		Game:       gameSvc,
		Admin:      admin.NewService(cfg.Admin),
		Archive:    archiveSvc,
		Payout:     payoutSvc,
	}
}

func (c *Container) Start(ctx context.Context) error {
	return c.Experiment.Start(ctx)
}
