package main

import (
	"context"
	"crypto/ecdsa"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"phone-verification-server/internal/admin"
	"phone-verification-server/internal/audit"
	auditrepo "phone-verification-server/internal/audit/repository"
	"phone-verification-server/internal/cache"
	"phone-verification-server/internal/config"
	"phone-verification-server/internal/credential"
	"phone-verification-server/internal/db"
	"phone-verification-server/internal/devotp"
	"phone-verification-server/internal/fraud"
	healthhandler "phone-verification-server/internal/health/handler"
	"phone-verification-server/internal/httpapi"
	"phone-verification-server/internal/lock"
	nullifierrepo "phone-verification-server/internal/nullifier/repository"
	"phone-verification-server/internal/otp"
	"phone-verification-server/internal/otp/sms"
	"phone-verification-server/internal/payment"
	"phone-verification-server/internal/payment/chain"
	"phone-verification-server/internal/payment/paypal"
	"phone-verification-server/internal/payment/price"
	phonerepo "phone-verification-server/internal/phonenumber/repository"
	"phone-verification-server/internal/policy/engine"
	"phone-verification-server/internal/refund"
	"phone-verification-server/internal/server"
	sessionrepo "phone-verification-server/internal/session/repository"
	"phone-verification-server/internal/telemetry"
	telemetryotel "phone-verification-server/internal/telemetry/otel"
	"phone-verification-server/internal/telemetry/producer"
	"phone-verification-server/internal/verification"
	voucherrepo "phone-verification-server/internal/voucher/repository"
)

const (
	healthInterval  = 15 * time.Second
	shutdownTimeout = 15 * time.Second
)

type stores struct {
	sessions   sessionrepo.Repository
	vouchers   voucherrepo.Repository
	nullifiers nullifierrepo.Repository
	numbers    phonerepo.Repository
	audits     auditrepo.Repository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		Environment: cfg.Env,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	events := telemetry.Multi{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if brokers := cfg.TelemetryKafkaBrokersList(); len(brokers) > 0 {
		kp, err := producer.NewKafka(brokers, cfg.TelemetryKafkaTopic)
		if err != nil {
			log.Fatalf("kafka: %v", err)
		}
		defer kp.Close()
		events = append(events, kp)
		log.Printf("telemetry: emitting session events to kafka topic %s", cfg.TelemetryKafkaTopic)
	}

	// Interface-typed so a missing dependency is a nil interface, not a typed nil.
	var dbPinger, redisPinger healthhandler.Pinger

	var st stores
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer conn.Close()
		st = postgresStores(conn)
		dbPinger = conn
	} else {
		if cfg.IsProduction() {
			log.Fatal("DATABASE_URL is required in production")
		}
		log.Println("db: DATABASE_URL not set, using in-memory stores")
		st = memoryStores()
	}

	var (
		codeStore otp.Store
		counter   otp.Counter
		locks     lock.Locker
	)
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		codeStore, counter, locks = otp.NewRedisStore(rdb), otp.NewRedisCounter(rdb), lock.NewRedisLocker(rdb)
		redisPinger = healthhandler.PingFunc(func(ctx context.Context) error { return redisPing(ctx, rdb) })
	} else {
		if cfg.IsProduction() {
			log.Fatal("REDIS_URL is required in production")
		}
		log.Println("redis: REDIS_URL not set, using in-memory OTP store, counters and lock")
		codeStore, counter, locks = otp.NewMemoryStore(nil), otp.NewMemoryCounter(nil), lock.NewMemoryLocker(nil)
	}

	policy, err := engine.LoadPolicyFile(cfg.EligibilityPolicyPath)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}
	evaluator, err := engine.NewOPAEvaluator(ctx, policy)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	rpcURLs, err := cfg.ChainRPCURLMap()
	if err != nil {
		log.Fatalf("chains: %v", err)
	}
	chains, err := chain.Dial(ctx, rpcURLs, !cfg.IsProduction())
	if err != nil {
		log.Fatalf("chains: %v", err)
	}
	quoter := price.NewCachedQuoter(price.NewCMCClient(cfg.CMCBaseURL, cfg.CMCAPIKey), 0)

	var (
		orders    verification.OrderCreator
		captures  payment.OrderCapturer
		ppRefunds refund.PayPal
	)
	if cfg.PayPalClientID != "" {
		base := cfg.PayPalBaseURL
		if base == "" {
			base = paypal.BaseURLFor(cfg.IsProduction())
		}
		pp := paypal.NewClient(base, cfg.PayPalClientID, cfg.PayPalSecret)
		orders, captures, ppRefunds = pp, pp, pp
	} else {
		log.Println("paypal: PAYPAL_CLIENT_ID not set, PayPal payments disabled")
	}

	var scorer fraud.Scorer
	if cfg.IPQSAPIKey != "" {
		scorer = fraud.NewIPQSClient(cfg.IPQSBaseURL, cfg.IPQSAPIKey)
	} else {
		if cfg.IsProduction() {
			log.Fatal("IPQUALITYSCORE_APIKEY is required in production")
		}
		log.Println("fraud: IPQUALITYSCORE_APIKEY not set, every number scores 0")
		scorer = fraud.StaticScorer(0)
	}
	gate := fraud.NewGate(scorer, evaluator, st.numbers, fraud.Options{
		MaxFraudScore:       cfg.MaxFraudScore,
		RegistrationRecency: cfg.RegistrationRecencyDuration(),
	})

	var sender otp.Sender
	if cfg.MessenteUsername != "" {
		sender = sms.NewMessenteClient(cfg.MessenteUsername, cfg.MessentePassword, cfg.MessenteBaseURL, cfg.SMSSender)
	}
	codes := otp.NewService(codeStore, counter, sender, otp.Options{
		TTL:            cfg.OTPTTLDuration(),
		LimitPerMinute: int64(cfg.OTPCountryLimitPerMinute),
		LimitPerHour:   int64(cfg.OTPCountryLimitPerHour),
	})
	var devStore devotp.Store
	if cfg.OTPReturnToClient {
		mem := devotp.NewMemoryStore()
		codes = codes.WithDevStore(mem)
		devStore = mem
		log.Println("otp: dev mode, codes are not sent and are readable at /dev/otp/{phone}")
	}

	issuerKey, err := credentialKey(cfg)
	if err != nil {
		log.Fatalf("credential key: %v", err)
	}
	payKey, err := paymentsKey(cfg.PaymentsPrivateKey)
	if err != nil {
		log.Fatalf("payments key: %v", err)
	}
	if payKey == nil {
		log.Println("refund: PAYMENTS_PRIVATE_KEY not set, refunds disabled")
	}

	verify := verification.NewService(verification.Deps{
		Sessions:   st.sessions,
		Vouchers:   st.vouchers,
		Nullifiers: st.nullifiers,
		Numbers:    st.numbers,
		OTP:        codes,
		Gate:       gate,
		Payments: payment.NewValidator(chains, quoter, st.sessions, st.vouchers, captures, payment.Config{
			PaymentAddress: cfg.PaymentAddress,
			Retry:          chain.DefaultRetry,
		}),
		Orders:  orders,
		Refunds: refund.NewCoordinator(st.sessions, chains, locks, ppRefunds, payKey, nil),
		Issuer:  credential.NewJWTIssuer(issuerKey, cfg.CredentialIssuer),
		Events:  events,
		Locks:   locks,
	}, verification.Options{
		NullifierGraceDays:     cfg.NullifierGraceDays,
		SybilResistanceEnabled: !cfg.DisableSybilResistance,
		VerifyTimeout:          cfg.VerifyTimeoutDuration(),
	})

	health := healthhandler.NewServer(dbPinger, redisPinger, evaluator)
	handler := httpapi.NewHandler(verify, admin.NewService(st.sessions, st.numbers, events), devStore, health.Check)
	router, err := httpapi.NewRouter(handler, httpapi.RouterOptions{
		AdminAPIKey:          cfg.AdminAPIKey,
		IPRateLimitPerMinute: cfg.IPRateLimitPerMinute,
		Audit:                audit.NewLogger(st.audits, httpapi.ClientIP),
	})
	if err != nil {
		log.Fatalf("router: %v", err)
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv := server.NewGRPCServer(server.Deps{Health: health, Events: events})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		health.Run(gctx, healthInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down servers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		return err
	})
	if err := g.Wait(); err != nil {
		log.Printf("server: %v", err)
	}

	// In-flight async emits must finish before the exporters close.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), telemetry.ShutdownDrainDuration)
	if err := telemetry.Drain(drainCtx); err != nil {
		log.Printf("telemetry: drain: %v", err)
	}
	cancelDrain()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("servers stopped")
}

func postgresStores(conn *sql.DB) stores {
	return stores{
		sessions:   sessionrepo.NewPostgresRepository(conn),
		vouchers:   voucherrepo.NewPostgresRepository(conn),
		nullifiers: nullifierrepo.NewPostgresRepository(conn),
		numbers:    phonerepo.NewPostgresRepository(conn),
		audits:     auditrepo.NewPostgresRepository(conn),
	}
}

func memoryStores() stores {
	return stores{
		sessions:   sessionrepo.NewMemoryRepository(),
		vouchers:   voucherrepo.NewMemoryRepository(),
		nullifiers: nullifierrepo.NewMemoryRepository(),
		numbers:    phonerepo.NewMemoryRepository(),
		audits:     auditrepo.NewMemoryRepository(),
	}
}

func redisPing(ctx context.Context, rdb *redis.Client) error {
	return rdb.Ping(ctx).Err()
}

// credentialKey returns the testing key when sybil resistance is off and the production key otherwise.
// Outside production a missing key is replaced by an ephemeral one.
func credentialKey(cfg *config.Config) (*ecdsa.PrivateKey, error) {
	pem := cfg.ProductionPrivKey
	if cfg.DisableSybilResistance {
		pem = cfg.TestingPrivKey
	}
	if strings.TrimSpace(pem) == "" {
		if cfg.IsProduction() {
			return nil, errors.New("PRODUCTION_PRIVKEY is required in production")
		}
		log.Println("credential: no signing key configured, using an ephemeral key")
		return credential.GenerateKey()
	}
	return credential.ParsePrivateKey(pem)
}

// paymentsKey parses a hex secp256k1 key. An empty string returns nil.
func paymentsKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, nil
	}
	return crypto.HexToECDSA(hexKey)
}
