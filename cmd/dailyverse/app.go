package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/Luknarz/DailyVerse/internal/calendar"
	"github.com/Luknarz/DailyVerse/internal/config"
	"github.com/Luknarz/DailyVerse/internal/content"
	"github.com/Luknarz/DailyVerse/internal/daily"
	"github.com/Luknarz/DailyVerse/internal/database"
	"github.com/Luknarz/DailyVerse/internal/entitlement"
	"github.com/Luknarz/DailyVerse/internal/favorites"
	"github.com/Luknarz/DailyVerse/internal/history"
	"github.com/Luknarz/DailyVerse/internal/kvstore"
	"github.com/Luknarz/DailyVerse/internal/logging"
	"github.com/Luknarz/DailyVerse/internal/rotation"
	"github.com/Luknarz/DailyVerse/internal/streak"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application is the composition root shared by the server and CLI commands.
type application struct {
	config       config.AppConfig
	logger       *zap.Logger
	sqlDB        *sql.DB
	calendar     calendar.Calendar
	engine       *rotation.Engine
	tracker      *streak.Tracker
	entitlements *entitlement.Manager
	favorites    *favorites.Set
	history      *history.Service
	daily        *daily.Service
}

func newApplication(ctx context.Context) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	cal, err := calendar.LoadCalendar(appConfig.Timezone)
	if err != nil {
		return nil, err
	}

	pool, err := content.LoadVerses(appConfig.VersesPath)
	if err != nil {
		logger.Error("verse content failed to load", zap.String("path", appConfig.VersesPath), zap.Error(err))
		return nil, err
	}
	passages, err := content.LoadPassages(appConfig.PassagesPath)
	if err != nil {
		logger.Error("passage content failed to load", zap.String("path", appConfig.PassagesPath), zap.Error(err))
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	app := &application{config: appConfig, logger: logger, sqlDB: sqlDB, calendar: cal}
	if err := app.wire(ctx, db, pool, passages); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *application) wire(ctx context.Context, db *gorm.DB, pool *content.VersePool, passages []content.Passage) error {
	store, err := kvstore.New(kvstore.Config{Database: db, Clock: time.Now, Logger: a.logger})
	if err != nil {
		return err
	}

	a.engine, err = rotation.NewEngine(ctx, rotation.Config{
		Pool:     pool,
		Store:    store,
		Calendar: a.calendar,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	a.tracker, err = streak.NewTracker(ctx, streak.Config{
		Store:         store,
		Calendar:      a.calendar,
		RetentionDays: a.config.RetentionDays,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}
	a.entitlements, err = entitlement.NewManager(entitlement.Config{Store: store, Logger: a.logger})
	if err != nil {
		return err
	}
	a.favorites, err = favorites.New(ctx, favorites.Config{
		Store:     store,
		Gate:      a.entitlements,
		FreeLimit: a.config.FreeFavorites,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}
	a.history, err = history.NewService(ctx, history.ServiceConfig{
		Store:       store,
		Clock:       a.clock(),
		IDProvider:  history.NewUUIDProvider(),
		MergeWindow: a.config.MergeWindow(),
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}
	a.daily, err = daily.NewService(daily.ServiceConfig{
		Rotation:        a.engine,
		Streak:          a.tracker,
		Passages:        content.NewPassageProvider(passages, a.calendar),
		History:         a.history,
		Gate:            a.entitlements,
		Calendar:        a.calendar,
		FreeExtraVerses: a.config.FreeExtraVerses,
		Logger:          a.logger,
	})
	return err
}

// today returns the --date override or the current time.
func (a *application) today() (time.Time, error) {
	if dateOverride == "" {
		return time.Now(), nil
	}
	return a.calendar.ParseKey(dateOverride)
}

// clock pins "now" to the --date override when one is set.
func (a *application) clock() func() time.Time {
	if dateOverride == "" {
		return time.Now
	}
	pinned, err := a.calendar.ParseKey(dateOverride)
	if err != nil {
		a.logger.Warn("ignoring invalid --date override", zap.String("date", dateOverride), zap.Error(err))
		return time.Now
	}
	return func() time.Time { return pinned }
}

func (a *application) Close() {
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	_ = a.logger.Sync()
}
