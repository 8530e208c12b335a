package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/Codexace/skull-multiplayer/internal/auth"
	"github.com/Codexace/skull-multiplayer/internal/cache"
	"github.com/Codexace/skull-multiplayer/internal/game"
	"github.com/Codexace/skull-multiplayer/internal/handlers"
	"github.com/Codexace/skull-multiplayer/internal/middleware"
)

func main() {
	logger := logrus.New()
	for _, arg := range os.Args[1:] {
		if arg == "-v" {
			logger.SetLevel(logrus.DebugLevel)
		}
	}

	auth.Init()

	// Action archival is optional: without Redis the server runs fine,
	// it just keeps no history.
	var recordFn game.RecordFunc
	if err := cache.ConnectRedis(); err != nil {
		logger.Warnf("redis unavailable, action archival disabled: %v", err)
	} else {
		recordFn = historianRecorder(logger)
	}

	registry := game.NewRegistry(logger, recordFn)
	rs := handlers.NewRoomServer(registry, logger)

	logged := middleware.LogMiddleware(logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/", handlers.PingHandler)
	mux.Handle("/room/create", logged(http.HandlerFunc(rs.CreateRoomHandler)))
	mux.Handle("/room/ws/", logged(handlers.RoomWSHandler(logger, rs)))

	server := &http.Server{
		Handler:     mux,
		ReadTimeout: time.Second * 10,
	}

	port := os.Getenv("SKULL_SERVICE_PORT")
	if port == "" {
		port = "8080"
	}
	l, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		logger.Fatalf("failed to listen: %v", err)
	}
	logger.Infof("listening on %s", l.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		logger.Errorf("failed to serve: %v", err)
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}

// historianRecorder adapts the archival queue to the room callback. The
// publish happens on a goroutine since the callback fires inside room
// handlers.
func historianRecorder(logger *logrus.Logger) game.RecordFunc {
	return func(code string, seat game.Seat, action string, detail map[string]interface{}) {
		rec := cache.GameActionRecord{
			RoomCode:   code,
			Seat:       int(seat),
			ActionType: action,
			Detail:     detail,
			Timestamp:  time.Now().Unix(),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := cache.PublishGameAction(ctx, rec); err != nil {
				logger.Warnf("failed to archive action %s for room %s: %v", action, code, err)
			}
		}()
	}
}
