package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/docfold/docgraph-backend/internal/data/graph"
	docshttp "github.com/docfold/docgraph-backend/internal/http"
	httpH "github.com/docfold/docgraph-backend/internal/http/handlers"
	"github.com/docfold/docgraph-backend/internal/platform/logger"
	"github.com/docfold/docgraph-backend/internal/platform/neo4jdb"
	"github.com/docfold/docgraph-backend/internal/platform/openai"
	"github.com/docfold/docgraph-backend/internal/platform/qdrant"
	"github.com/docfold/docgraph-backend/internal/rag"
	"github.com/docfold/docgraph-backend/internal/services/crossrepo"
	"github.com/docfold/docgraph-backend/internal/services/embedding"
	"github.com/docfold/docgraph-backend/internal/services/entities"
)

func main() {
	_ = godotenv.Load()

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Neo4j
	neoClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init Neo4j client", "error", err)
		os.Exit(1)
	}
	defer neoClient.Close(context.Background())

	verifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := neoClient.Driver.VerifyConnectivity(verifyCtx); err != nil {
		cancel()
		log.Error("Neo4j connectivity check failed", "error", err)
		os.Exit(1)
	}
	cancel()

	graphRepo, err := graph.NewRepository(log, neoClient)
	if err != nil {
		log.Error("Could not init graph repository", "error", err)
		os.Exit(1)
	}

	// OpenAI
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}

	// Qdrant. The embedding dimension is fixed at startup; a collection
	// configured for a different dimension is a configuration error.
	qdrantCfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		log.Error("Could not resolve qdrant config", "error", err)
		os.Exit(1)
	}
	if openaiClient.EmbedDimensions() != qdrantCfg.VectorDim {
		log.Error("embedding dimension does not match vector collection",
			"embed_dim", openaiClient.EmbedDimensions(),
			"collection_dim", qdrantCfg.VectorDim,
		)
		os.Exit(1)
	}
	vectorIndex, err := qdrant.NewVectorIndex(log, qdrantCfg)
	if err != nil {
		log.Error("Could not init vector index", "error", err)
		os.Exit(1)
	}

	// Services
	embedSvc, err := embedding.NewService(log, openaiClient, openaiClient.EmbedDimensions(), embedding.ResolveConfigFromEnv())
	if err != nil {
		log.Error("Could not init embedding service", "error", err)
		os.Exit(1)
	}
	extractor, err := entities.NewExtractor(log, openaiClient)
	if err != nil {
		log.Error("Could not init entity extractor", "error", err)
		os.Exit(1)
	}
	resolver, err := crossrepo.NewResolver(log, graphRepo)
	if err != nil {
		log.Error("Could not init cross-repo resolver", "error", err)
		os.Exit(1)
	}

	ingestor, err := rag.NewIngestor(rag.IngestorDeps{
		Log:       log,
		Graph:     graphRepo,
		Vector:    vectorIndex,
		Embedder:  embedSvc,
		Extractor: extractor,
	})
	if err != nil {
		log.Error("Could not init ingestor", "error", err)
		os.Exit(1)
	}
	engine, err := rag.NewEngine(rag.EngineDeps{
		Log:      log,
		Vector:   vectorIndex,
		Graph:    graphRepo,
		Embedder: embedSvc,
		Chat:     openaiClient,
		Resolver: resolver,
	})
	if err != nil {
		log.Error("Could not init query engine", "error", err)
		os.Exit(1)
	}

	server := docshttp.NewServer(docshttp.RouterConfig{
		Log:             log,
		DocumentHandler: httpH.NewDocumentHandler(ingestor),
		QueryHandler:    httpH.NewQueryHandler(engine),
		HealthHandler:   httpH.NewHealthHandler(),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Info("server listening", "port", port)
	if err := server.Run(":" + port); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}
