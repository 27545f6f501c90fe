package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ChainPact/internal/api"
	"ChainPact/internal/config"
	"ChainPact/internal/events"
	"ChainPact/internal/intent"
	"ChainPact/internal/observability/alerting"
	"ChainPact/internal/registry"
	"ChainPact/internal/security"
	mysqlstorage "ChainPact/internal/storage/mysql"
	"ChainPact/pkg/logger"
)

// main 是 ChainPact 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("chainpactd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CHAINPACT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "chainpact.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	// 初始化持久化后端。
	var (
		registryStore registry.Store
		contextStore  security.ContextStore
		intentStore   intent.Store
	)
	switch cfg.Storage.Driver {
	case "", "memory":
		registryStore = registry.NewMemoryStore()
		contextStore = security.NewMemoryContextStore()
		intentStore = intent.NewMemoryStore()
	case "mysql":
		db, err := mysqlstorage.Open(ctx, mysqlstorage.Config{DSN: cfg.Storage.DSN})
		if err != nil {
			return err
		}
		defer db.Close()
		if err := mysqlstorage.Migrate(ctx, db); err != nil {
			return err
		}
		registryStore = registry.NewMySQLStore(db)
		contextStore = security.NewMySQLContextStore(db)
		intentStore = intent.NewMySQLStore(db)
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
	defer func() {
		_ = intentStore.Close()
		_ = contextStore.Close()
		_ = registryStore.Close()
	}()

	// 初始化事件广播渠道。
	dispatcher, err := createDispatcher(cfg)
	if err != nil {
		return err
	}

	policy := security.DefaultPolicy()
	if cfg.Security.PolicyPath != "" {
		policy, err = security.LoadPolicy(cfg.Security.PolicyPath)
		if err != nil {
			return err
		}
	}

	manager := security.NewManager(contextStore, registryStore,
		security.WithPolicy(policy),
		security.WithDispatcher(dispatcher),
	)

	machineOpts := []intent.MachineOption{
		intent.WithDispatcher(dispatcher),
	}
	switch cfg.Security.AcceptanceRule {
	case "", "any":
		machineOpts = append(machineOpts, intent.WithAcceptanceRule(intent.AcceptAny))
	case "all":
		machineOpts = append(machineOpts, intent.WithAcceptanceRule(intent.AcceptAll))
	default:
		return fmt.Errorf("未知的接受规则: %s", cfg.Security.AcceptanceRule)
	}

	machine := intent.NewMachine(intentStore, manager, machineOpts...)

	server := api.NewServer(cfg.Server.Address, machine, manager)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createDispatcher(cfg *config.Config) (events.Dispatcher, error) {
	sinks := []events.Sink{events.NewLogSink()}

	switch cfg.EventBus.Driver {
	case "", "log":
	case "redis":
		sink, err := events.NewRedisSink(events.RedisSinkConfig{
			Address:  cfg.EventBus.Redis.Address,
			Password: cfg.EventBus.Redis.Password,
			DB:       cfg.EventBus.Redis.DB,
			Stream:   cfg.EventBus.Redis.Stream,
			MaxLen:   cfg.EventBus.Redis.MaxLen,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	case "rabbitmq":
		sink, err := events.NewRabbitMQSink(events.RabbitMQSinkConfig{
			URL:        cfg.EventBus.RabbitMQ.URL,
			Queue:      cfg.EventBus.RabbitMQ.Queue,
			Durable:    cfg.EventBus.RabbitMQ.Durable,
			AutoDelete: cfg.EventBus.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	default:
		return nil, fmt.Errorf("未知的事件总线驱动: %s", cfg.EventBus.Driver)
	}

	if cfg.Alerting.WebhookURL != "" {
		notifier := alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL,
			time.Duration(cfg.Alerting.TimeoutSeconds)*time.Second)
		sinks = append(sinks, events.NewAlertSink(alerting.NewFanout(notifier)))
	}

	return events.NewFanout(sinks...), nil
}
