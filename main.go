package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"talkmate-chat/internal/config"
	"talkmate-chat/internal/db"
	"talkmate-chat/internal/handlers"
	"talkmate-chat/internal/media"
	"talkmate-chat/internal/middleware"
	"talkmate-chat/internal/observability"
	"talkmate-chat/internal/rabbitmq"
	"talkmate-chat/internal/repositories"
	"talkmate-chat/internal/telemetry"
	"talkmate-chat/internal/ws"
)

const serviceName = "talkmate-chat"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.Env)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer shutdownTracing(ctx)

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s reason=%q", rabbitmq.PublisherMode(auditPublisher), rabbitmq.PublisherNoopReason(auditPublisher))
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit.chat", serviceName, cfg.Env)

	if cfg.AMQPURL != "" {
		eventsPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("events publisher disabled: %v", err)
		} else {
			defer eventsPublisher.Close()
			observability.SetPublisher(eventsPublisher)
		}
	}

	var storage media.Storage
	if cfg.S3Bucket != "" {
		storage, err = media.NewS3Storage(ctx, cfg.S3Region, cfg.S3Bucket, cfg.AWSAccessKey, cfg.AWSSecretKey)
		if err != nil {
			log.Fatalf("failed to init s3 storage: %v", err)
		}
	} else {
		log.Printf("s3 bucket not configured, storing attachments on disk")
		storage = media.NewLocalStorage("./uploads", fmt.Sprintf("http://localhost:%d/uploads", cfg.Port))
	}
	mediaService := media.NewService(storage)

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()
	jwtSecret := []byte(cfg.JWTSecret)

	conversationHandler := handlers.NewConversationHandler(conversationRepo)
	messageHandler := handlers.NewMessageHandler(conversationRepo, messageRepo, mediaService, hub)
	conversationWS := ws.NewConversationWebSocketHandler(hub, conversationRepo, jwtSecret)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.S3Bucket == "" {
		router.Static("/uploads", "./uploads")
	}

	authMiddleware := middleware.AuthMiddleware(jwtSecret)

	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.POST("/conversations/start", authMiddleware, conversationHandler.StartConversation)
	router.DELETE("/conversations/:conversation_id/me", authMiddleware, conversationHandler.HideConversationForMe)

	router.GET("/conversations/:conversation_id/messages", authMiddleware, messageHandler.GetMessages)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, messageHandler.PostMessage)
	router.POST("/conversations/:conversation_id/messages/:message_id/revoke", authMiddleware, messageHandler.RevokeMessage)
	router.DELETE("/conversations/:conversation_id/messages/:message_id/me", authMiddleware, messageHandler.DeleteMessageForMe)
	router.POST("/conversations/:conversation_id/read", authMiddleware, messageHandler.MarkRead)

	router.GET("/ws/conversations/:conversation_id", conversationWS.Handle)

	handlers.RegisterDebugRoutes(router, audit, cfg.Debug)

	if err := router.Run(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
