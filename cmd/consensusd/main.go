// consensusd runs a single-validator consensus engine: it loads a validator
// key and config, wires the Executor to a loopback Value Provider, a
// validator set of exactly one, a resilient broadcaster, and a wall-clock
// timeout scheduler, then serves a debug HTTP API over the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/CoinCulture/agnes/cmd/internal/passphrase"
	"github.com/CoinCulture/agnes/config"
	"github.com/CoinCulture/agnes/consensus/bft"
	"github.com/CoinCulture/agnes/consensus/engine"
	"github.com/CoinCulture/agnes/consensus/value"
	"github.com/CoinCulture/agnes/crypto"
	"github.com/CoinCulture/agnes/httpapi"
	"github.com/CoinCulture/agnes/observability/logging"
	"github.com/CoinCulture/agnes/observability/metrics"
	telemetry "github.com/CoinCulture/agnes/observability/otel"
	"github.com/CoinCulture/agnes/p2p"
	"github.com/CoinCulture/agnes/timer"
)

const validatorPassEnv = "CONSENSUSD_VALIDATOR_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	logFile := flag.String("log-file", "", "Optional path to rotate a copy of logs into")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CONSENSUSD_ENV"))
	var logger *slog.Logger
	if *logFile != "" {
		logger = logging.SetupWithFile("consensusd", env, *logFile)
	} else {
		logger = logging.Setup("consensusd", env)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "consensusd",
		Environment: env,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialise telemetry: %v", err))
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	passSource := passphrase.NewSource(validatorPassEnv)
	pass, err := passSource.Get()
	if err != nil {
		panic(fmt.Sprintf("failed to resolve validator keystore passphrase: %v", err))
	}
	logger.Info("validator keystore passphrase resolved", logging.MaskField("source", pass))
	validatorKey, err := loadOrCreateValidatorKey(cfg.ValidatorKeystore, pass)
	if err != nil {
		panic(fmt.Sprintf("failed to load validator key: %v", err))
	}
	self := validatorKey.PubKey().Address().String()
	logger.Info("validator identity loaded", "address", self)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	validators := newSingleValidatorSet(self)
	blocks := value.NewBlockStore()
	proposer := newDemoProposer(self, blocks)

	consensusMetrics := metrics.NewConsensus()
	loopback := &loopbackBroadcaster{logger: logger}
	broadcaster := newResilientBroadcaster[value.BlockValue](ctx, logger, loopback)

	// ex and scheduler are referenced from the fire callback below before
	// either exists; the closure captures the variables, not their values,
	// so both assignments are visible by the time any timeout actually
	// fires.
	var (
		ex        *engine.Executor[value.BlockValue]
		scheduler *timer.Scheduler
	)
	scheduler = timer.New(timer.Durations{
		Propose:   cfg.Timeouts.Propose,
		Prevote:   cfg.Timeouts.Prevote,
		Precommit: cfg.Timeouts.Precommit,
	}, func(ctx context.Context, t bft.Timeout) {
		ex.Apply(ctx, engine.TimeoutInput[value.BlockValue](t))
		if round := ex.State().Round; round > t.Round {
			scheduler.CancelRound(round)
		}
	})

	ex = engine.NewExecutor[value.BlockValue](
		1,
		self,
		validators,
		proposer,
		broadcaster,
		scheduler,
		engine.WithLogger[value.BlockValue](logger),
		engine.WithRecorder[value.BlockValue](consensusMetrics),
	)

	router := httpapi.New(httpapi.Config{
		Status: executorStatus{ex: ex},
		RateLimiter: httpapi.NewRateLimiter(map[string]httpapi.RateLimit{
			"status": {RatePerSecond: 5, Burst: 10},
		}, logger),
		Observability: httpapi.NewObservability(httpapi.ObservabilityConfig{
			ServiceName: "consensusd",
			LogRequests: false,
		}, logger),
	})

	debugServer := &http.Server{
		Addr:    cfg.DebugAddress,
		Handler: router,
	}
	go func() {
		logger.Info("debug http api listening", "addr", cfg.DebugAddress)
		if err := debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("debug http api failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = debugServer.Shutdown(shutdownCtx)
	}()

	ex.Start(ctx)
	logger.Info("consensus engine started", "height", 1)

	<-ctx.Done()
	logger.Info("consensusd shutting down")
}

func loadOrCreateValidatorKey(path, passphrase string) (*crypto.PrivateKey, error) {
	if _, err := os.Stat(path); err == nil {
		return crypto.LoadFromKeystore(path, passphrase)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	if err := crypto.SaveToKeystore(path, key, passphrase); err != nil {
		return nil, err
	}
	return key, nil
}

// executorStatus adapts engine.Executor's generic State/Decided accessors to
// httpapi.StatusProvider.
type executorStatus struct {
	ex *engine.Executor[value.BlockValue]
}

func (s executorStatus) Status() httpapi.Status {
	state := s.ex.State()
	v, round, decided := s.ex.Decided()
	return httpapi.FormatStatus(state.Height, state.Round, state.Step, decided, round, v)
}

// loopbackBroadcaster is the demo network: a single validator has no peers
// to gossip to, so it only logs what would have gone out over the wire.
type loopbackBroadcaster struct {
	logger *slog.Logger
}

func (l *loopbackBroadcaster) Broadcast(msg *p2p.Message) error {
	l.logger.Debug("broadcast (loopback, no peers)", "type", msg.Type, "bytes", len(msg.Payload))
	return nil
}

// demoProposer always proposes a freshly minted single-transaction block, so
// the demo binary can be observed deciding a block without any external
// mempool or state machine feeding it real transactions.
type demoProposer struct {
	proposer string
	blocks   *value.BlockStore
	height   uint64
}

func newDemoProposer(proposer string, blocks *value.BlockStore) *demoProposer {
	return &demoProposer{proposer: proposer, blocks: blocks}
}

func (p *demoProposer) Value(ctx context.Context, round int) (value.BlockValue, bool) {
	p.height++
	block := value.Block{
		Header: value.BlockHeader{
			Height:    p.height,
			Round:     round,
			Timestamp: 0,
			Proposer:  p.proposer,
		},
		Transactions: [][]byte{[]byte("demo-tx-" + strconv.FormatUint(p.height, 10))},
	}
	return p.blocks.Put(block), true
}

func (p *demoProposer) Valid(ctx context.Context, v value.BlockValue) bool {
	_, ok := p.blocks.Get(v)
	return ok
}

// newSingleValidatorSet builds a ValidatorSet of exactly one member, the
// base case spec.md scopes the round state machine around.
func newSingleValidatorSet(self string) *singleValidatorSet {
	return &singleValidatorSet{self: self, power: big.NewInt(1)}
}

type singleValidatorSet struct {
	self  string
	power *big.Int
}

func (s *singleValidatorSet) TotalPower() *big.Int { return s.power }

func (s *singleValidatorSet) Weight(voter string) *big.Int {
	if voter == s.self {
		return s.power
	}
	return nil
}

func (s *singleValidatorSet) IsProposer(voter string, round int) bool {
	return voter == s.self
}
