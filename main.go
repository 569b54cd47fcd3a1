package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"callflow/engine"
	"callflow/expression"
	"callflow/inference"
	"callflow/logging"
	"callflow/secrets"
	"callflow/server"
)

func main() {
	cfg, err := server.LoadConfig(os.Getenv("CALLFLOW_CONFIG"))
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	app, err := server.NewApp(cfg.FlowsDir)
	if err != nil {
		log.Fatalf("Error loading flows: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	llm := inference.NewOpenAIClient(os.Getenv(cfg.OpenAI.APIKeyEnv), cfg.OpenAI.Model)

	eng := engine.New(
		expression.New(),
		inference.NewRunner(llm),
		secrets.NewChainManager(),
		logging.NewSlogLogger(logger),
	)

	g := gin.Default()

	server.NewHandler(app, eng, logger, g)

	if err := g.Run(cfg.Addr); err != nil {
		log.Fatalf("Error running server: %v", err)
	}
}
