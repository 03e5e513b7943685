package main

import (
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// App carries the shared dependencies of every handler.
type App struct {
	cfg          Config
	db           *gorm.DB
	log          Logger
	store        FileStore
	policy       SecurityPolicy
	fx           *fxClient
	loginLimiter *keyedLimiter
	now          func() time.Time
	bcryptCost   int
}

func newApp(cfg Config, db *gorm.DB, lggr Logger, store FileStore, policy SecurityPolicy) *App {
	now := func() time.Time { return time.Now().UTC() }
	return &App{
		cfg:          cfg,
		db:           db,
		log:          lggr,
		store:        store,
		policy:       policy,
		fx:           newFXClient(cfg.FXBaseURL, lggr.Named("fx"), now),
		loginLimiter: newKeyedLimiter(cfg.LoginRatePerMinute, now),
		now:          now,
		bcryptCost:   bcrypt.DefaultCost,
	}
}
