package config

import (
	"context"
	"fmt"
	"time"

	"github.com/anonto42/nano-midea/engagement/internal/repositories"
	"github.com/anonto42/nano-midea/engagement/pkg/firebase"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenStore connects the store selected by cfg.StoreDriver.
// fb is only used by the firestore driver and may be nil otherwise.
func OpenStore(ctx context.Context, cfg *Config, fb *firebase.App, logger *zap.Logger) (repositories.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		db, err := initPostgres(cfg.PostgresURL, cfg.IsProduction())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		store := repositories.NewPostgresStore(db)
		if err := store.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("failed to auto migrate models: %w", err)
		}
		logger.Info("Successfully connected to PostgreSQL")
		return store, nil

	case "mongo":
		client, err := initMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		store := repositories.NewMongoStore(client, client.Database(cfg.MongoDatabase))
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("failed to create MongoDB indexes: %w", err)
		}
		logger.Info("Successfully connected to MongoDB", zap.String("database", cfg.MongoDatabase))
		return store, nil

	case "firestore":
		if fb == nil {
			return nil, fmt.Errorf("firestore driver requires an initialized Firebase app")
		}
		client, err := fb.Firestore(ctx)
		if err != nil {
			return nil, err
		}
		logger.Info("Using Cloud Firestore store")
		return repositories.NewFirestoreStore(client), nil

	case "memory":
		logger.Warn("Using in-memory store; data is lost on restart")
		return repositories.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// initPostgres initializes the PostgreSQL database connection using GORM
func initPostgres(connStr string, production bool) (*gorm.DB, error) {
	level := gormlogger.Warn
	if production {
		level = gormlogger.Error
	}
	db, err := gorm.Open(postgres.Open(connStr), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	// Ping the database to verify connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	if err = sqlDB.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

// initMongo initializes the MongoDB connection
func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	// Ping the primary to verify connection
	if err = client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return client, nil
}
