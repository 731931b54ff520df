package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"ecocert/internal/adapters/events"
	"ecocert/internal/adapters/fhe"
	httpadapter "ecocert/internal/adapters/http"
	"ecocert/internal/adapters/kafkabus"
	"ecocert/internal/adapters/memory"
	"ecocert/internal/adapters/metrics"
	"ecocert/internal/adapters/oracle"
	pg "ecocert/internal/adapters/postgres"
	"ecocert/internal/adapters/quorum"
	"ecocert/internal/config"
	"ecocert/internal/domain"
	"ecocert/internal/ports"
	"ecocert/internal/services/certification"
	"ecocert/internal/services/disclosure"
	"ecocert/internal/services/policy"
	"ecocert/internal/services/registry"
	"ecocert/internal/workers/relayer"
	"ecocert/internal/workers/sweeper"
)

// repository is what both the memory and the Postgres stores provide.
type repository interface {
	ports.RecordRepository
	ports.RoleRepository
	ports.GrantRepository
	ports.RequestRepository
	ports.JobRepository
	ports.CiphertextStore
}

var (
	_ repository = (*memory.Store)(nil)
	_ repository = (*pg.DB)(nil)
)

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()
	if err != nil {
		log.Error("invalid configuration", zap.Error(err))
		return err
	}

	ctx, cancel := signalContext(parent)
	defer cancel()

	roles := domain.Roles{SystemOwner: domain.Principal(cfg.SystemOwner), Authority: domain.Principal(cfg.Authority)}
	var repo repository
	if cfg.DatabaseURL != "" {
		db, err := pg.Connect(ctx, cfg.DatabaseURL, int32(cfg.MaxConns))
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		if err := db.EnsureRoles(ctx, roles); err != nil {
			return fmt.Errorf("seed roles: %w", err)
		}
		repo = db
		log.Info("using postgres store")
	} else {
		repo = memory.New(roles)
		log.Warn("DATABASE_URL not set, using in-memory store")
	}

	engine, err := buildEngine(cfg, repo, log)
	if err != nil {
		return err
	}

	bus := events.New(log)
	m := metrics.New()
	if err := bus.LogEvents(); err != nil {
		return err
	}
	if err := bus.SubscribeAll(m.Observe); err != nil {
		return err
	}

	pol := policy.New(nil)
	reg := registry.New(repo, engine, domain.Principal(cfg.SystemPrincipal), log)
	certs := certification.New(repo, repo, reg, pol, bus, log)

	committee, verifier, err := buildQuorum(cfg, log)
	if err != nil {
		return err
	}

	var disclosureOracle ports.DisclosureOracle
	switch cfg.OracleMode {
	case config.OracleKafka:
		w := kafkabus.NewWriter(cfg.KafkaBrokers, cfg.KafkaRequestTopic)
		defer w.Close()
		disclosureOracle = kafkabus.NewOracle(w, engine, log)
	default:
		disclosureOracle = oracle.NewLocal(repo, log)
	}

	disc := disclosure.New(disclosure.Deps{
		Records:  repo,
		Requests: repo,
		Roles:    repo,
		Handles:  reg,
		Oracle:   disclosureOracle,
		Verifier: verifier,
		Policy:   pol,
		Events:   bus,
		Log:      log,
	}, disclosure.Config{
		ScoreFactor:  cfg.ScoreFactor,
		TTL:          cfg.DisclosureTTL,
		ReusePending: cfg.DisclosureReusePending,
	})

	switch cfg.OracleMode {
	case config.OracleKafka:
		r := kafkabus.NewReader(cfg.KafkaBrokers, cfg.KafkaResultTopic, cfg.KafkaGroupID)
		defer r.Close()
		consumer := kafkabus.NewResultConsumer(r, disc, log)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Error("result consumer stopped", zap.Error(err))
				cancel()
			}
		}()
	default:
		processor := oracle.Decrypter{Decryptor: engine, Signer: committee, Callback: disc}
		relayer.Run(ctx, repo, processor, cfg.OracleWorkers, cfg.OraclePollInterval, log.Named("relayer"))
		log.Info("oracle workers started", zap.Int("workers", cfg.OracleWorkers))
	}

	if cfg.DisclosureTTL > 0 {
		go sweeper.Run(ctx, disc, cfg.SweepInterval, log.Named("sweeper"))
	}

	srv := httpadapter.New(certs, disc, reg, engine, httpadapter.Options{
		AllowPlaintext: cfg.Env == "development",
		Metrics:        m,
		Log:            log,
	})
	return serveHTTP(ctx, cfg, srv.Routes(), log)
}

// buildEngine loads the BGV keys from FHE_KEY_FILE, creating the file on first
// start. Without a key file the keys last only for this process.
func buildEngine(cfg config.Config, store ports.CiphertextStore, log *zap.Logger) (*fhe.Engine, error) {
	var keys *fhe.Keys
	if cfg.FHEKeyFile == "" {
		k, err := fhe.GenerateKeys(fhe.DefaultParameters)
		if err != nil {
			return nil, err
		}
		keys = k
		log.Warn("FHE_KEY_FILE not set, generated ephemeral encryption keys")
	} else {
		k, created, err := fhe.LoadOrCreateKeys(cfg.FHEKeyFile, fhe.DefaultParameters)
		if err != nil {
			return nil, fmt.Errorf("encryption keys: %w", err)
		}
		keys = k
		if created {
			log.Info("generated encryption keys", zap.String("path", cfg.FHEKeyFile))
		}
	}
	engine := fhe.NewWithKeys(keys, store)
	if cfg.ScoreFactor >= engine.PlaintextModulus() {
		return nil, fmt.Errorf("SCORE_FACTOR %d leaves no room below plaintext modulus %d", cfg.ScoreFactor, engine.PlaintextModulus())
	}
	return engine, nil
}

// buildQuorum returns the local signing committee (nil in kafka mode) and the
// verifier for oracle results.
func buildQuorum(cfg config.Config, log *zap.Logger) (*quorum.Committee, *quorum.Verifier, error) {
	if cfg.OracleMode == config.OracleKafka {
		addrs, err := quorum.ParseAddresses(cfg.SignerAddresses)
		if err != nil {
			return nil, nil, err
		}
		v, err := quorum.NewVerifier(addrs, cfg.SignerThreshold)
		return nil, v, err
	}

	var committee *quorum.Committee
	if len(cfg.SignerKeys) > 0 {
		keys, err := quorum.ParseKeys(cfg.SignerKeys)
		if err != nil {
			return nil, nil, err
		}
		committee = quorum.NewCommittee(keys...)
	} else {
		n := cfg.SignerThreshold
		if n < 3 {
			n = 3
		}
		c, err := quorum.GenerateCommittee(n)
		if err != nil {
			return nil, nil, err
		}
		committee = c
		log.Warn("SIGNER_KEYS not set, generated an ephemeral committee", zap.Int("signers", n))
	}
	addrs := committee.Addresses()
	if len(cfg.SignerAddresses) > 0 {
		parsed, err := quorum.ParseAddresses(cfg.SignerAddresses)
		if err != nil {
			return nil, nil, err
		}
		addrs = parsed
	}
	v, err := quorum.NewVerifier(addrs, cfg.SignerThreshold)
	if err != nil {
		return nil, nil, err
	}
	return committee, v, nil
}

func serveHTTP(ctx context.Context, cfg config.Config, handler http.Handler, log *zap.Logger) error {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}
	httpSrv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()
	log.Info("listening", zap.String("addr", ln.Addr().String()), zap.Int("max_conns", cfg.MaxConns))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}
