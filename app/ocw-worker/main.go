package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qubic/go-offchain-worker/api"
	"github.com/qubic/go-offchain-worker/business/domain/chain"
	"github.com/qubic/go-offchain-worker/business/domain/runtime"
	"github.com/qubic/go-offchain-worker/business/domain/submission"
	"github.com/qubic/go-offchain-worker/business/domain/txpool"
	"github.com/qubic/go-offchain-worker/business/domain/worker"
	"github.com/qubic/go-offchain-worker/entities"
	"github.com/qubic/go-offchain-worker/external/kafka"
	"github.com/qubic/go-offchain-worker/external/redis"
	"github.com/qubic/go-offchain-worker/external/remote"
	"github.com/qubic/go-offchain-worker/infrastructure/keystore"
	"github.com/qubic/go-offchain-worker/infrastructure/store/pebbledb"
	"github.com/qubic/go-offchain-worker/metrics"
	goredis "github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const prefix = "QUBIC_OCW"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

// blockNumberFunc lets the caches read the node height before the node exists.
type blockNumberFunc func() uint64

func (f blockNumberFunc) CurrentBlock() uint64 {
	return f()
}

func run() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("loading .env file: %v", err)
	}

	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)

	logger, err := config.Build()
	if err != nil {
		return fmt.Errorf("creating logger: %v", err)
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	var cfg struct {
		InternalStoreFolder string        `conf:"default:store"`
		ServerListenAddr    string        `conf:"default:0.0.0.0:8000"`
		MetricsListenAddr   string        `conf:"default:0.0.0.0:9999"`
		GrpcListenAddr      string        `conf:"default:0.0.0.0:8001"`
		MetricsNamespace    string        `conf:"default:qubic_ocw"`
		BlockInterval       time.Duration `conf:"default:6s"`
		Keys                []string      `conf:"noprint"`
		Fetch               struct {
			PriceUrl    string        `conf:"default:https://api.coincap.io/v2/assets/polkadot"`
			MetadataUrl string        `conf:"default:https://api.github.com/orgs/substrate-developer-hub"`
			UserAgent   string        `conf:"default:qubic-ocw"`
			Timeout     time.Duration `conf:"default:3000ms"`
		}
		Lock struct {
			Blocks           uint64        `conf:"default:3"`
			Timeout          time.Duration `conf:"default:4000ms"`
			PriceKey         string        `conf:"default:ocw::price-lock"`
			MetadataKey      string        `conf:"default:ocw::metadata-lock"`
			PriceCacheKey    string        `conf:"default:ocw::price-cache"`
			MetadataCacheKey string        `conf:"default:ocw::metadata-cache"`
		}
		Cache struct {
			PriceBlocks    uint64        `conf:"default:1"`
			PriceTtl       time.Duration `conf:"default:6s"`
			MetadataBlocks uint64        `conf:"default:100"`
			MetadataTtl    time.Duration `conf:"default:10m"`
		}
		Pool struct {
			Capacity  int    `conf:"default:512"`
			TagPrefix string `conf:"default:ocw-demo"`
			Priority  uint64 `conf:"default:100"`
			Longevity uint64 `conf:"default:3"`
		}
		Redis struct {
			Addr     string
			Password string `conf:"noprint"`
			Db       int    `conf:"default:0"`
		}
		Kafka struct {
			BootstrapServers []string      `conf:"default:localhost:9092"`
			EventTopic       string        `conf:"default:qubic-ocw-events"`
			Enabled          bool          `conf:"default:true"`
			DeliveryTimeout  time.Duration `conf:"default:10s"`
			EmitTimeout      time.Duration `conf:"default:5s"`
		}
	}

	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %v", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %v", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %v", err)
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %v", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	procMetrics := metrics.NewProcessingMetrics(prometheus.DefaultRegisterer, cfg.MetricsNamespace)

	ledgerStore, err := pebbledb.NewLedgerStore(cfg.InternalStoreFolder)
	if err != nil {
		return fmt.Errorf("creating ledger store: %v", err)
	}
	defer ledgerStore.Close()

	var node *chain.Node
	blocks := blockNumberFunc(func() uint64 { return node.CurrentBlock() })

	var cache worker.DurableCache
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Db,
		})
		defer rdb.Close()
		log.Printf("main: Using shared redis cache at [%s].", cfg.Redis.Addr)
		cache = redis.NewCache(rdb, blocks)
	} else {
		offchainStore, err := pebbledb.NewOffchainStore(cfg.InternalStoreFolder, blocks)
		if err != nil {
			return fmt.Errorf("creating offchain store: %v", err)
		}
		defer offchainStore.Close()
		cache = offchainStore
	}

	keyring, err := keystore.LoadHexKeys(cfg.Keys)
	if err != nil {
		return fmt.Errorf("loading keys: %v", err)
	}
	if len(keyring.Accounts()) == 0 {
		account, err := keyring.Generate()
		if err != nil {
			return fmt.Errorf("generating key: %v", err)
		}
		log.Printf("main: No keys configured. Generated identity [%x].", account.Public())
	}

	var emitter runtime.EventEmitter = discardEmitter{}
	if cfg.Kafka.Enabled {
		m := kprom.NewMetrics(cfg.MetricsNamespace,
			kprom.Registerer(prometheus.DefaultRegisterer),
			kprom.Gatherer(prometheus.DefaultGatherer))
		kcl, err := kgo.NewClient(
			kgo.WithHooks(m),
			kgo.SeedBrokers(cfg.Kafka.BootstrapServers...),
			kgo.DefaultProduceTopic(cfg.Kafka.EventTopic),
			kgo.ProducerBatchCompression(kgo.ZstdCompression()),
			kgo.RecordDeliveryTimeout(cfg.Kafka.DeliveryTimeout),
		)
		if err != nil {
			return errors.Wrap(err, "creating kafka client")
		}
		defer kcl.Close()
		emitter = kafka.NewClient(kcl, procMetrics, sLogger)
	}

	validator := submission.NewValidator(cfg.Pool.TagPrefix, cfg.Pool.Priority, cfg.Pool.Longevity, keystore.Verify)
	pool := txpool.NewPool(validator, keystore.Verify, txpool.Config{
		Capacity:        cfg.Pool.Capacity,
		BlockInterval:   cfg.BlockInterval,
		SignedLongevity: cfg.Pool.Longevity,
	})
	defer pool.Close()

	rt := runtime.NewRuntime(ledgerStore, emitter, validator, runtime.Config{
		Fee:         runtime.DefaultFee,
		EmitTimeout: cfg.Kafka.EmitTimeout,
	}, sLogger)
	gateway := submission.NewGateway(pool, keyring, rt)

	lockTTL := entities.TTL{Blocks: cfg.Lock.Blocks, Time: cfg.Lock.Timeout}
	ocw := worker.NewWorker(remote.NewClient(cfg.Fetch.UserAgent, cfg.Fetch.Timeout), cache, gateway, worker.Config{
		PriceURL:         cfg.Fetch.PriceUrl,
		MetadataURL:      cfg.Fetch.MetadataUrl,
		PriceLockKey:     cfg.Lock.PriceKey,
		PriceCacheKey:    cfg.Lock.PriceCacheKey,
		MetadataLockKey:  cfg.Lock.MetadataKey,
		MetadataCacheKey: cfg.Lock.MetadataCacheKey,
		LockTTL:          lockTTL,
		PriceCacheTTL:    entities.TTL{Blocks: cfg.Cache.PriceBlocks, Time: cfg.Cache.PriceTtl},
		MetadataCacheTTL: entities.TTL{Blocks: cfg.Cache.MetadataBlocks, Time: cfg.Cache.MetadataTtl},
	}, procMetrics, sLogger)

	node, err = chain.NewNode(ledgerStore, pool, rt, ocw, chain.Config{BlockInterval: cfg.BlockInterval}, procMetrics, sLogger)
	if err != nil {
		return fmt.Errorf("creating node: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := node.StartProcessing(ctx)
		node.Wait()
		return err
	})

	// status endpoint
	handler := api.NewHandler(rt, node)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.GetHealth)
	mux.HandleFunc("/v1/state", handler.GetState)
	apiServer := &http.Server{Addr: cfg.ServerListenAddr, Handler: mux}
	g.Go(func() error {
		log.Printf("main: Starting server on [%s].", cfg.ServerListenAddr)
		return serveHTTP(ctx, apiServer)
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsListenAddr, Handler: metricsMux}
	g.Go(func() error {
		log.Printf("main: Starting metrics server on [%s].", cfg.MetricsListenAddr)
		return serveHTTP(ctx, metricsServer)
	})

	g.Go(func() error {
		return serveGrpcHealth(ctx, cfg.GrpcListenAddr)
	})

	log.Println("main: Service started.")
	err = g.Wait()
	log.Println("main: Shutting down...")
	return err
}

func serveHTTP(ctx context.Context, server *http.Server) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrapf(err, "serving [%s]", server.Addr)
}

func serveGrpcHealth(ctx context.Context, addr string) error {
	srv := grpc.NewServer()
	healthServer := health.NewServer()
	healthgrpc.RegisterHealthServer(srv, healthServer)
	reflection.Register(srv)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %v", err)
	}
	go func() {
		<-ctx.Done()
		healthServer.Shutdown()
		srv.GracefulStop()
	}()

	log.Printf("main: Starting grpc health server on [%s].", addr)
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	err = srv.Serve(lis)
	if err != nil {
		return fmt.Errorf("serving grpc listener: %v", err)
	}
	return nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(context.Context, entities.Event) error {
	return nil
}
