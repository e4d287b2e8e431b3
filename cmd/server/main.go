package main

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"ai-chat/internal/ai"
	"ai-chat/internal/attachment"
	"ai-chat/internal/cache"
	"ai-chat/internal/chat"
	"ai-chat/internal/config"
	"ai-chat/internal/db"
	"ai-chat/internal/embedding"
	myMiddleware "ai-chat/internal/middleware"
	"ai-chat/internal/user"
)

func main() {
	// 1. Config
	cfg := config.Load()
	if cfg.DBDSN == "" {
		log.Fatal("❌ DB_DSN is not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("❌ JWT_SECRET is not set")
	}

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DBDSN)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Database Schema Initialized")

	// 3. Connect to Redis (cache partitions + event backbone)
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")
	cacheClient := cache.New(redisClient)

	// 4. User Feature (token issuing + verification)
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	// 5. Completion provider + background embedding
	aiClient := ai.NewClient(cfg.AIAPIKey, cfg.AIBaseURL)
	embedWorker := embedding.NewWorker(aiClient, database.Conn, cfg.EmbeddingModel)
	go embedWorker.Run()

	// 6. Chat Feature
	chatRepo := chat.NewRepository(database.Conn)
	attachResolver := attachment.NewSQLResolver(database.Conn)

	hub := chat.NewHub(redisClient)
	go hub.Run()
	go hub.SubscribeToRedis()

	bridge := chat.NewBridge(aiClient, chatRepo, attachResolver, nil, chat.BridgeConfig{
		SystemPrompt: cfg.SystemPrompt,
		Model:        cfg.AIModel,
		VisionModel:  cfg.AIVisionModel,
		MaxTokens:    cfg.AIMaxTokens,
		GroupSize:    cfg.ChunkWordCount,
		TokenBudget:  cfg.ContextTokenCap,
	})
	chatService := chat.NewService(chatRepo, cacheClient, hub, bridge, embedWorker, attachResolver)
	chatHandler := chat.NewHandler(hub, chatService, chatRepo, cacheClient, userService)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 7. Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "index.html")
	})

	// WebSocket carries its own credential (auth field → header →
	// query), so it sits outside the REST middleware.
	r.Get("/ws", chatHandler.ServeWs)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Post("/api/conversations", chatHandler.CreateConversation)
		r.Get("/api/conversations", chatHandler.ListConversations)
		r.Get("/api/conversations/{id}/messages", chatHandler.GetChatHistory)
		r.Get("/api/conversations/{id}/presence", chatHandler.PresenceInConversation)
		r.Delete("/api/conversations/{id}", chatHandler.DeleteConversation)
		r.Post("/api/messages/{id}/pin", chatHandler.PinMessage)
	})

	log.Printf("🚀 Server starting on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.Fatal(err)
	}
}
