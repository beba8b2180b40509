package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/koopa0/system-design/14-webrtc-matchmaking/internal"
)

func main() {
	// 解析命令行參數
	var (
		port           = flag.Int("port", 5001, "服務器端口")
		logLevel       = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
		logFormat      = flag.String("log-format", "text", "日誌格式 (text, json)")
		allowedOrigins = flag.String("allowed-origins", "", "允許的來源清單，逗號分隔；空值代表不限制")
		gracePeriod    = flag.Duration("grace-period", 0, "空房間延遲刪除的寬限期；0 代表立即刪除")
	)
	flag.Parse()

	// 設置日誌
	logger := setupLogger(*logLevel, *logFormat)

	origins := splitOrigins(*allowedOrigins)

	// 建立核心元件
	registry := internal.NewRegistry(logger)
	matchmaker := internal.NewMatchmaker(registry, logger)
	hub := internal.NewHub(registry, logger, internal.HubConfig{
		AllowedOrigins: origins,
		GracePeriod:    *gracePeriod,
	})
	handler := internal.NewHandler(matchmaker, registry, hub, logger, origins)

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("GET /ws", hub.ServeWS)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 啟動服務器
	go func() {
		logger.Info("配對訊號服務器啟動",
			"port", *port,
			"allowed_origins", origins,
			"grace_period", *gracePeriod)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 關閉所有即時連線
	hub.Stop()

	logger.Info("服務器已關閉")
}

// splitOrigins 解析逗號分隔的來源清單
func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
