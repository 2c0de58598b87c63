package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quieloop/sonus/internal/agent"
	"github.com/quieloop/sonus/internal/agents/oai"
	"github.com/quieloop/sonus/internal/agents/xiaozhi"
	"github.com/quieloop/sonus/internal/config"
	"github.com/quieloop/sonus/internal/manager"
	"github.com/quieloop/sonus/internal/server"
	"github.com/quieloop/sonus/internal/service"
	"github.com/quieloop/sonus/internal/store"
	"github.com/quieloop/sonus/internal/timesync"
	"github.com/quieloop/sonus/pkg/Logger"
	"github.com/quieloop/sonus/pkg/audio"
)

const captureBufferSize = 256 * 1024

// This is the main entry point for the agent runtime.
// Loads in all system components
// Exposes functionalities
func main() {
	// fetch cfg
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// load global logger
	logger := Logger.New(cfg.Debug)
	logger.Info("Logger initialized")

	// selection store: redis when configured, in-process otherwise
	var st store.Store
	if cfg.Redis.Addr != "" {
		st, err = store.NewRedis(store.RedisConfig{
			Addr: cfg.Redis.Addr,
			Pass: cfg.Redis.Pass,
			DB:   cfg.Redis.DB,
		}, "sonus")
		if err != nil {
			logger.Warnf("redis unavailable (%v), selections will not persist", err)
			st = store.NewMemory()
		}
	} else {
		st = store.NewMemory()
	}
	defer st.Close()

	pipeline := audio.NewPipeline(captureBufferSize, logger)

	// agent registry
	reg := agent.NewRegistry()
	if err := reg.Register(xiaozhi.Name, func(p *audio.Pipeline, l *Logger.Logger) (agent.Agent, error) {
		return xiaozhi.New(xiaozhi.Config{
			OTAURL:       cfg.Agents.Xiaozhi.OTAURL,
			WebsocketURL: cfg.Agents.Xiaozhi.WebsocketURL,
			DeviceID:     cfg.Agents.Xiaozhi.DeviceID,
			ClientID:     cfg.Agents.Xiaozhi.ClientID,
		}, cfg.Audio, p, l)
	}); err != nil {
		logger.Fatalf("register xiaozhi: %v", err)
	}
	if cfg.Agents.OpenAI.APIKey != "" {
		if err := reg.Register(oai.Name, func(p *audio.Pipeline, l *Logger.Logger) (agent.Agent, error) {
			return oai.New(oai.Config{
				APIKey: cfg.Agents.OpenAI.APIKey,
				Model:  cfg.Agents.OpenAI.Model,
				Prompt: cfg.Agents.OpenAI.Prompt,
			}, cfg.Audio, p, l)
		}); err != nil {
			logger.Fatalf("register openai: %v", err)
		}
	} else {
		logger.Warn("openai agent disabled: no api key configured")
	}

	// lifecycle machine with its time-sync gate
	syncer := timesync.New(timesync.Config{
		Server:  cfg.TimeSync.Server,
		Timeout: cfg.TimeSync.Timeout,
	}, logger)
	machine := agent.NewStateMachine(agent.MachineConfig{
		QueueSize:        cfg.Machine.QueueSize,
		MaxFailureStreak: cfg.Machine.MaxFailureStreak,
	}, syncer, logger)

	activeAgent := cfg.ActiveAgent
	if activeAgent == "" {
		activeAgent = xiaozhi.Name
	}
	mgr := manager.New(manager.Config{
		DefaultAgent:    activeAgent,
		DefaultChatMode: cfg.ChatMode,
	}, reg, machine, st, pipeline, logger)

	if err := mgr.Start(context.Background()); err != nil {
		logger.Fatalf("manager start: %v", err)
	}

	functions := service.NewFunctionRegistry()
	if err := mgr.RegisterFunctions(functions); err != nil {
		logger.Fatalf("function registration: %v", err)
	}

	// compose router
	router := gin.Default()
	dep := server.NewServerDependencies(mgr, functions, logger, cfg)
	server.InitializeRoutes(cfg, router, dep)

	// listen with graceful exit
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router.Handler(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server exiting %v", err)
		}
	}()
	logger.Infof("listening on %s", cfg.Server.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// 5 secs then cancel
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown err %v", err)
	}
	mgr.Stop(ctx)
	logger.Info("Shutdown system")
}
