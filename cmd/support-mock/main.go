package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/woedy/snelroi-chat/internal/chattest"
	"github.com/woedy/snelroi-chat/internal/config"
	"github.com/woedy/snelroi-chat/internal/logging"
	"github.com/woedy/snelroi-chat/internal/support"
	"go.uber.org/zap"
)

var (
	demoCustomer = chattest.User{ID: 1, Name: "Alice Mensah", Email: "alice@example.com"}
	demoAgent    = chattest.User{ID: 100, Name: "Dana", Email: "dana@snelroi.example", Staff: true}
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	customerToken := flag.String("customer-token", "demo-customer-token", "Bearer token accepted for the demo customer")
	agentToken := flag.String("agent-token", "demo-agent-token", "Bearer token accepted for the demo support agent")
	noAgent := flag.Bool("no-agent", false, "Disable the auto-responding support agent")
	notifyEvery := flag.Duration("notify-every", 0, "Push a demo notification to the customer at this interval (0 disables)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Mock.Port = *port
	}

	log, closeLog, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: "json"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	store := chattest.NewStore()
	store.AddUser(*customerToken, demoCustomer)
	store.AddUser(*agentToken, demoAgent)
	srv := chattest.NewServer(store, log.Named("mock"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !*noAgent {
		chattest.NewAgent(srv, demoAgent, cfg.Mock.AgentThink, cfg.Mock.AgentTyping).Start(ctx)
	}
	if *notifyEvery > 0 {
		go pushNotifications(ctx, srv, *notifyEvery)
	}

	addr := net.JoinHostPort(cfg.Mock.Host, strconv.Itoa(cfg.Mock.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	log.Info("mock support backend listening",
		zap.String("addr", addr),
		zap.String("customer_token", *customerToken),
		zap.String("agent_token", *agentToken),
		zap.Bool("agent", !*noAgent))

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
}

func pushNotifications(ctx context.Context, srv *chattest.Server, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n++
			srv.PushNotification(demoCustomer.ID, support.Notification{
				NotificationType: "SECURITY",
				Priority:         support.PriorityHigh,
				Title:            "New sign-in to your account",
				Message:          fmt.Sprintf("Demo notification #%d", n),
			})
		}
	}
}
