package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/joho/godotenv"

	"schoolchat/chat"
	"schoolchat/config"
	"schoolchat/network"
	"schoolchat/restapi"
	"schoolchat/storage"
	"schoolchat/ui"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	if config.AccessToken() == "" {
		log.Fatalf("startup failed: %s is not set", config.EnvAccessToken)
	}

	serverURL := cfg.EffectiveServerURL()
	wsURL, err := cfg.WebSocketURL()
	if err != nil {
		log.Fatalf("startup failed while resolving socket endpoint: %v", err)
	}

	fmt.Printf("Session ID:      %s\n", cfg.SessionID)
	fmt.Printf("Server:          %s\n", serverURL)
	fmt.Printf("Config File:     %s\n", cfgPath)
	dataDir := filepath.Dir(cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()
	fmt.Printf("Database File:   %s\n", dbPath)

	api := restapi.New(serverURL, config.AccessToken)

	conn, err := network.NewConn(network.Options{
		Endpoint:    wsURL,
		Token:       config.AccessToken,
		RetryPolicy: backoff.NewConstantBackOff(time.Duration(cfg.ReconnectDelaySeconds) * time.Second),
	})
	if err != nil {
		log.Fatalf("startup failed while preparing chat socket: %v", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("socket close error: %v", err)
		}
	}()

	var app *ui.App
	session, err := chat.NewSession(chat.SessionOptions{
		Directory:      api,
		Transport:      conn,
		Cache:          store,
		HistoryTimeout: time.Duration(cfg.HistoryTimeoutSeconds) * time.Second,
		OnChange: func() {
			if app != nil {
				app.Refresh()
			}
		},
		OnNotice: func(text string) {
			if app != nil {
				app.Notice(text)
			}
		},
	})
	if err != nil {
		log.Fatalf("startup failed while creating session: %v", err)
	}
	defer session.Stop()

	app = ui.New(session, conn)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("chat surface failed: %v", err)
	}
}
