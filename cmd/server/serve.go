package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Mieluoxxx/nova-proxy/internal/api"
	"github.com/Mieluoxxx/nova-proxy/internal/balancer"
	"github.com/Mieluoxxx/nova-proxy/internal/config"
	"github.com/Mieluoxxx/nova-proxy/internal/db"
	"github.com/Mieluoxxx/nova-proxy/internal/events"
	"github.com/Mieluoxxx/nova-proxy/internal/logging"
	"github.com/Mieluoxxx/nova-proxy/internal/mapping"
	"github.com/Mieluoxxx/nova-proxy/internal/stats"
	"github.com/Mieluoxxx/nova-proxy/internal/upstream"
	"github.com/gin-gonic/gin"
	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	cleanupInterval = time.Hour
)

// runServe 加载配置、组装依赖并运行 HTTP 服务，直到 ctx 结束
func runServe(ctx context.Context) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}

	logCloser, err := logging.Setup(logging.Options{
		Level:   cfg.Server.LogLevel,
		File:    cfg.Server.LogFile,
		Verbose: verbose,
	})
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}

	logrus.WithFields(logrus.Fields{
		"version": version,
		"config":  cfg.Path(),
	}).Infof("🚀 %s 启动中", AppName)

	// 数据库
	database, err := db.InitDatabase(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.CloseDatabase(database)

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(database); err != nil {
			return err
		}
	}

	// 模型映射：配置文件中的映射写入数据库
	mappingCache := mapping.NewMemoryCache(mapping.DefaultCacheConfig())
	defer mappingCache.Close()
	mappingService := mapping.NewService(mapping.NewRepository(database), mappingCache)
	if _, err := mappingService.SeedFromConfig(ctx, cfg.ModelMapping); err != nil {
		return fmt.Errorf("导入模型映射失败: %w", err)
	}

	// 上游 Key 轮换与故障转移
	detector := balancer.NewFailureDetector(balancer.FailureDetectorConfig{
		FailureThreshold: cfg.Upstream.FailureThreshold,
		CooldownDuration: cfg.Upstream.Cooldown,
	})
	pool := balancer.NewKeyPool(cfg.Keys(), detector)
	executor := balancer.NewFailoverExecutor(pool, detector, balancer.FailoverConfig{
		MaxRetries: cfg.Upstream.MaxRetries,
	})
	if pool.Len() == 0 {
		logrus.Warn("⚠️  未配置上游 API Key，/v1/messages 请求将返回错误，可通过 PUT /api/upstream/keys 添加")
	}

	eventService := events.NewService(database)
	requestCounter := stats.NewRequestCounter(time.Minute)
	defer requestCounter.Close()

	router := api.SetupRouter(api.Dependencies{
		Version:        version,
		Config:         cfg,
		Client:         upstream.NewClient(cfg.UpstreamURL, executor, cfg.Upstream.Timeout),
		Pool:           pool,
		HealthChecker:  upstream.NewHealthChecker(0),
		MappingService: mappingService,
		EventService:   eventService,
		RequestCounter: requestCounter,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logrus.WithFields(logrus.Fields{
			"addr":     srv.Addr,
			"upstream": cfg.UpstreamURL,
			"keys":     pool.Len(),
		}).Info("🌐 服务已启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP 服务异常退出: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logrus.Info("🛑 正在关闭服务...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return eventService.RunCleanup(gCtx, cfg.Events.RetentionDays, cleanupInterval)
	})

	if cfg.Server.OpenBrowser {
		g.Go(func() error {
			statusURL := "http://" + dialAddr(cfg.Server.Host, cfg.Server.Port) + "/status"
			if err := waitForPort(gCtx, dialAddr(cfg.Server.Host, cfg.Server.Port), 5*time.Second); err != nil {
				logrus.WithError(err).Warn("⚠️  服务未就绪，跳过打开浏览器")
				return nil
			}
			if err := browser.OpenURL(statusURL); err != nil {
				logrus.WithError(err).Warn("⚠️  打开浏览器失败")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logrus.Info("👋 服务已退出")
	return nil
}

// dialAddr 本机访问服务使用的地址，监听所有网卡时改用回环地址
func dialAddr(host string, port int) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// waitForPort 轮询端口直到可以建立连接
func waitForPort(ctx context.Context, addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return fmt.Errorf("等待 %s 超时", addr)
}
