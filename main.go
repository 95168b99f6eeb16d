package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IliaW/catalog-crawl-worker/config"
	"github.com/IliaW/catalog-crawl-worker/internal/aws_s3"
	"github.com/IliaW/catalog-crawl-worker/internal/broker"
	cacheClient "github.com/IliaW/catalog-crawl-worker/internal/cache"
	"github.com/IliaW/catalog-crawl-worker/internal/crawler"
	"github.com/IliaW/catalog-crawl-worker/internal/extractor"
	"github.com/IliaW/catalog-crawl-worker/internal/fetcher"
	"github.com/IliaW/catalog-crawl-worker/internal/model"
	"github.com/IliaW/catalog-crawl-worker/internal/persistence"
	"github.com/IliaW/catalog-crawl-worker/internal/pipeline"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	cfg   *config.Config
	log   *slog.Logger
	db    *sql.DB
	s3    aws_s3.BucketClient
	cache cacheClient.CachedClient
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	log = setupLogger()
	runID := uuid.NewString()
	log.Info("starting crawl run.", slog.String("env", cfg.Env), slog.String("run_id", runID))

	stats := &model.PipelineStats{}
	fetchClient := fetcher.New(setupMechanism(), cfg.WorkerSettings, log)
	sink := setupSink()
	if cfg.S3Settings.Enabled {
		s3 = aws_s3.NewS3BucketClient(cfg.S3Settings, log)
	}
	if cfg.CacheSettings.Enabled {
		cache = cacheClient.NewMemcachedClient(cfg.CacheSettings, log)
	}

	var publishChan chan *model.Record
	kafkaWg := &sync.WaitGroup{}
	if cfg.KafkaSettings.Enabled {
		publishChan = make(chan *model.Record, cfg.QueueSettings.ResultCapacity)
		kafkaWg.Add(1)
		go broker.NewRecordPublisher(publishChan, cfg.KafkaSettings, log, kafkaWg).Run()
	}

	p := &pipeline.Pipeline{
		Cfg:         cfg,
		Log:         log,
		Fetcher:     fetchClient,
		Extractor:   extractor.NewCatalogExtractor(),
		Sink:        sink,
		Archive:     s3,
		Cache:       cache,
		PublishChan: publishChan,
		Stats:       stats,
	}
	runErr := p.Run(ctx)

	// The publisher drains whatever the writer committed, also on a failed
	// run; the sink flush keeps partial results.
	if publishChan != nil {
		close(publishChan)
		kafkaWg.Wait()
	}
	if err := sink.Close(); err != nil {
		log.Error("failed to close the sink.", slog.String("err", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}
	if cache != nil {
		cache.Close()
	}
	if db != nil {
		closeDatabase()
	}

	log.Info("crawl summary.",
		slog.String("run_id", runID),
		slog.String("state", p.State().String()),
		slog.Bool("interrupted", ctx.Err() != nil),
		slog.Int64("attempted", stats.Attempted.Load()),
		slog.Int64("succeeded", stats.Succeeded.Load()),
		slog.Int64("failed", stats.Failed.Load()),
		slog.Int64("records_written", stats.RecordsWritten.Load()))
	if runErr != nil {
		log.Error("run failed.", slog.String("err", runErr.Error()))
		os.Exit(1)
	}
}

func setupLogger() *slog.Logger {
	resolvedLogLevel := func() slog.Level {
		envLogLevel := strings.ToLower(cfg.LogLevel)
		switch envLogLevel {
		case "info":
			return slog.LevelInfo
		case "error":
			return slog.LevelError
		default:
			return slog.LevelDebug
		}
	}

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var output io.Writer = os.Stdout
	fileLog := cfg.LogFileSettings != nil && cfg.LogFileSettings.Enabled
	if fileLog {
		output = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFileSettings.Path,
			MaxSize:    cfg.LogFileSettings.MaxSizeMb,
			MaxBackups: cfg.LogFileSettings.MaxBackups,
			MaxAge:     cfg.LogFileSettings.MaxAgeDays,
		})
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(output, &tint.Options{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs,
			NoColor:     fileLog}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupMechanism() fetcher.Mechanism {
	switch model.ScrapeMechanism(cfg.WorkerSettings.ScrapeMechanism) {
	case model.HeadlessBrowser:
		return fetcher.NewBrowserMechanism(cfg.WorkerSettings, log)
	case model.CommonCrawl:
		return crawler.NewArchiveFetcher(cfg.CrawlerSettings, log)
	default:
		return fetcher.NewCurlMechanism(cfg.WorkerSettings)
	}
}

func setupSink() persistence.RecordSink {
	if strings.ToLower(cfg.SinkSettings.Type) == "json" {
		return persistence.NewJSONFileSink(cfg.SinkSettings, log)
	}
	db = setupDatabase()
	return persistence.NewProductRepository(db, log)
}

func setupDatabase() *sql.DB {
	log.Info("connecting to the database...")
	sqlCfg := mysql.Config{
		User:                 cfg.DbSettings.User,
		Passwd:               cfg.DbSettings.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%s", cfg.DbSettings.Host, cfg.DbSettings.Port),
		DBName:               cfg.DbSettings.Name,
		AllowNativePasswords: true,
		ParseTime:            true,
	}
	database, err := sql.Open("mysql", sqlCfg.FormatDSN())
	if err != nil {
		log.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(cfg.DbSettings.ConnMaxLifetime)
	database.SetMaxOpenConns(cfg.DbSettings.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DbSettings.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		log.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr != nil {
			log.Error("not responding.", slog.String("err", pingErr.Error()))
			if i == maxRetry {
				log.Error("failed to establish database connection.")
				os.Exit(1)
			}
			log.Info(fmt.Sprintf("wait %d seconds", 5*i))
			time.Sleep(time.Duration(5*i) * time.Second)
		} else {
			break
		}
	}
	log.Info("connected to the database!")

	return database
}

func closeDatabase() {
	log.Info("closing database connection.")
	err := db.Close()
	if err != nil {
		log.Error("failed to close database connection.", slog.String("err", err.Error()))
	}
}
