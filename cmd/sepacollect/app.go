package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/WebOleg/sepacollect/app/repository"
	"github.com/WebOleg/sepacollect/internal/pkg/bicblacklist"
	"github.com/WebOleg/sepacollect/internal/pkg/cache"
	"github.com/WebOleg/sepacollect/internal/pkg/config"
	"github.com/WebOleg/sepacollect/internal/pkg/database"
	"github.com/WebOleg/sepacollect/internal/pkg/dedupe"
	"github.com/WebOleg/sepacollect/internal/pkg/dispatch"
	"github.com/WebOleg/sepacollect/internal/pkg/env"
	"github.com/WebOleg/sepacollect/internal/pkg/iban"
	"github.com/WebOleg/sepacollect/internal/pkg/jobqueue"
	"github.com/WebOleg/sepacollect/internal/pkg/lock"
	"github.com/WebOleg/sepacollect/internal/pkg/pipeline"
)

// application holds the shared collaborators every command builds on
type application struct {
	cfg    config.Config
	db     *gorm.DB
	redis  *redis.Client
	repos  *repository.Repositories
	iban   iban.Validator
	dedupe *dedupe.Engine
	bics   *bicblacklist.Engine
	locks  lock.Manager
	queue  *jobqueue.Queue
}

func bootstrap() (*application, error) {
	env.SetupEnvFile()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.SetupDatabase(); err != nil {
		return nil, err
	}
	cache.SetupCache()

	db := database.GetDB()
	client := cache.GetClient()
	repository.InitializeFactory(db, client)

	return &application{
		cfg:    cfg,
		db:     db,
		redis:  client,
		repos:  repository.GetGlobalRepositories(),
		iban:   iban.NewValidator(),
		dedupe: dedupe.NewEngine(dedupe.NewRepository(db), cfg.Dedupe),
		bics:   bicblacklist.NewEngine(bicblacklist.NewRepository(db), cfg.BicBlacklist),
		locks:  lock.NewRedisManager(client),
		queue:  jobqueue.NewQueue(client, cfg.Queue.Workers, pipeline.Phases...),
	}, nil
}

func (a *application) dispatcher() *dispatch.Dispatcher {
	return dispatch.NewDispatcher(a.repos.Debtor, a.dedupe, a.locks, a.queue, a.cfg.Dispatch)
}
