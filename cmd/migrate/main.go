package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/cyberFlowTech/zapry-settlement/internal/config"
)

func main() {
	_ = godotenv.Load()

	schemaPath := flag.String("schema", "migrations/schema.sql", "path to the schema file")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	schema, err := os.ReadFile(*schemaPath)
	if err != nil {
		logger.Fatal("Failed to read schema", zap.String("path", *schemaPath), zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, string(schema)); err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}

	logger.Info("Migration applied", zap.String("schema", *schemaPath))
}
