package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/openadview/internal/analytics"
	"github.com/patrickwarner/openadview/internal/config"
	"github.com/patrickwarner/openadview/internal/db"
	"github.com/patrickwarner/openadview/internal/models"
	"github.com/patrickwarner/openadview/internal/reporting"
)

func main() {
	// stdout carries the MCP stream, so logs go to stderr
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.MessageKey = "msg"

	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("openadview-mcp").With(zap.String("service", "openadview-mcp"))

	cfg := config.Load()
	ctx := context.Background()

	slots := models.NewInMemorySlotStore()
	if cfg.PostgresDSN == "" {
		logger.Fatal("POSTGRES_DSN environment variable is required")
	}
	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pg.Close()

	declared, err := pg.LoadSlots(ctx)
	if err != nil {
		logger.Fatal("Failed to load slots", zap.Error(err))
	}
	if err := slots.ReloadAll(declared); err != nil {
		logger.Fatal("Failed to populate slot store", zap.Error(err))
	}
	logger.Info("Loaded slot configs", zap.Int("slots", len(declared)))

	vs := &ViewServer{slots: slots, logger: logger}
	if cfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN, 5)
		if err != nil {
			logger.Warn("ClickHouse unavailable, performance tool disabled", zap.Error(err))
		} else {
			defer ch.Close()
			vs.source = &reporting.ClickHouseSource{DB: ch.DB}
		}
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "openadview",
		Version: "1.0.0",
	}, nil)
	registerTools(server, vs)

	var logBuffer bytes.Buffer
	transport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP Server running via stdio")
	if err := server.Run(ctx, transport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
