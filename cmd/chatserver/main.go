package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minoa/simple-chat/internal/chat"
	"github.com/minoa/simple-chat/internal/chatlog"
	"github.com/minoa/simple-chat/internal/config"
	"github.com/minoa/simple-chat/internal/messaging"
	"github.com/minoa/simple-chat/internal/presence"
	"github.com/minoa/simple-chat/internal/protocol"
	"github.com/minoa/simple-chat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = fmt.Sprintf(":%d", cfg.Port)
	serverConfig.StaticDir = cfg.StaticDir
	serverConfig.WorkerPoolSize = cfg.WorkerPoolSize
	serverConfig.MaxConnections = cfg.MaxConnections
	if d, err := time.ParseDuration(cfg.ReadTimeout); err == nil {
		serverConfig.ReadTimeout = d
	}
	if d, err := time.ParseDuration(cfg.WriteTimeout); err == nil {
		serverConfig.WriteTimeout = d
	}

	serverName := cfg.ServerName
	if serverName == "" {
		serverName, _ = os.Hostname()
	}
	if serverName == "" {
		serverName = "chat-1"
	}

	// --- Remote log store ---
	storeConfig := chatlog.GitHubConfig{
		APIURL:   cfg.GitHubAPIURL,
		Repo:     cfg.GitHubRepo,
		FilePath: cfg.GitHubFilePath,
		Token:    cfg.GitHubToken,
	}
	if storeConfig.Token == "" {
		log.Printf("warning: GITHUB_TOKEN is empty, chat log writes will be rejected by the store")
	}
	synchronizer := chatlog.NewSynchronizer(chatlog.NewGitHubStore(storeConfig))

	log.Printf("simple-chat server starting")
	log.Printf("  listen_addr:     %s", serverConfig.ListenAddr)
	log.Printf("  static_dir:      %s", serverConfig.StaticDir)
	log.Printf("  worker_pool:     %d", serverConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", serverConfig.MaxConnections)
	log.Printf("  github_repo:     %s/%s", storeConfig.Repo, storeConfig.FilePath)
	log.Printf("  server_name:     %s", serverName)

	tracker := presence.NewTracker()
	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(serverConfig, dispatcher.Dispatch)
	coordinator := chat.NewCoordinator(server, tracker, synchronizer)

	// --- Optional cross-instance relay ---
	var relay *messaging.Relay
	if cfg.NATSURL != "" {
		relayConfig := messaging.DefaultRelayConfig()
		relayConfig.URL = cfg.NATSURL
		relayConfig.Name = serverName
		relay, err = messaging.NewRelay(relayConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		coordinator.SetRelay(relay.PublishFrame)

		// Frames from other instances have no local originator; deliver them
		// to every local client.
		if err := relay.SubscribeFrames(server.Broadcast); err != nil {
			log.Fatalf("failed to subscribe to room events: %v", err)
		}
		log.Printf("  nats_url:        %s", cfg.NATSURL)
	}

	dispatcher.Register(protocol.TypeAddUser, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.AddUserMsg)
		if !ok {
			return
		}
		coordinator.HandleAddUser(conn.ID, m.Username)
	})

	dispatcher.Register(protocol.TypeNewMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.NewMessageMsg)
		if !ok {
			return
		}
		coordinator.HandleNewMessage(conn.ID, m.Message)
	})

	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		coordinator.HandleTyping(conn.ID)
	})

	dispatcher.Register(protocol.TypeStopTyping, func(conn *ws.Connection, msg interface{}) {
		coordinator.HandleStopTyping(conn.ID)
	})

	server.SetOnConnect(coordinator.HandleConnect)
	server.SetOnDisconnect(coordinator.HandleDisconnect)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if relay != nil {
			relay.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
