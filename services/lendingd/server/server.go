package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendcore/crypto"
	nativecommon "lendcore/native/common"
	"lendcore/native/lending"
	"lendcore/observability/metrics"
)

const requestLimit = 1 << 20 // 1 MiB

// Server exposes the lending engine over HTTP. Oracle prices ride along in
// each health-sensitive request body; when a manual oracle is configured,
// quotes omitted from the body fall back to the last published readings.
type Server struct {
	engine  *lending.Engine
	logger  *slog.Logger
	metrics *metrics.LendingMetrics
	limiter *rateLimiter
	oracle  *lending.ManualOracle
	clock   func() time.Time
}

// Option tweaks server construction.
type Option func(*Server)

// WithClock overrides the wall clock, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) { s.clock = clock }
}

// WithRateLimit bounds per-client request rates on mutating routes.
func WithRateLimit(requestsPerMinute float64, burst int) Option {
	return func(s *Server) { s.limiter = newRateLimiter(requestsPerMinute, burst) }
}

// WithOracle enables the operator price feed and its publish route.
func WithOracle(oracle *lending.ManualOracle) Option {
	return func(s *Server) { s.oracle = oracle }
}

// New constructs the HTTP server around an engine.
func New(engine *lending.Engine, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		logger:  logger,
		metrics: metrics.Lending(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Post("/banks", s.handleInitBank)
		r.Get("/banks/{mint}", s.handleGetBank)
		r.Get("/banks/{mint}/status", s.handlePoolStatus)
		r.Post("/users", s.handleInitUser)
		r.Get("/positions/{address}", s.handleGetPosition)
		r.Get("/positions/{address}/snapshots/{sequence}", s.handleGetSnapshot)
		r.Post("/deposit", s.handleDeposit)
		r.Post("/withdraw", s.handleWithdraw)
		r.Post("/borrow", s.handleBorrow)
		r.Post("/repay", s.handleRepay)
		r.Post("/health/monitoring", s.handleEnableMonitoring)
		r.Post("/health/threshold", s.handleUpdateThreshold)
		r.Post("/health/check", s.handleCheckHealth)
		r.Post("/health/snapshot", s.handleCreateSnapshot)
		r.Post("/liquidate", s.handleLiquidate)
		if s.oracle != nil {
			r.Post("/oracle/prices", s.handlePublishPrices)
		}
	})
	return r
}

type quotePayload struct {
	Price       string `json:"price"`
	Confidence  string `json:"confidence,omitempty"`
	PublishTime int64  `json:"publishTime"`
}

type pricesPayload map[string]quotePayload

func (p pricesPayload) toSet() (lending.PriceSet, error) {
	set := make(lending.PriceSet, len(p))
	for mint, quote := range p {
		price, ok := new(big.Int).SetString(quote.Price, 10)
		if !ok {
			return nil, errors.New("invalid price for " + mint)
		}
		parsed := lending.PriceQuote{Price: price, PublishTime: quote.PublishTime}
		if quote.Confidence != "" {
			confidence, ok := new(big.Int).SetString(quote.Confidence, 10)
			if !ok {
				return nil, errors.New("invalid confidence for " + mint)
			}
			parsed.Confidence = confidence
		}
		set.Set(mint, parsed)
	}
	return set, nil
}

// resolvePrices merges request quotes with the oracle feed for the mints the
// owner's position touches. Request quotes win.
func (s *Server) resolvePrices(payload pricesPayload, owner crypto.Address) (lending.PriceSet, error) {
	set, err := payload.toSet()
	if err != nil {
		return nil, err
	}
	if s.oracle == nil {
		return set, nil
	}
	position, err := s.engine.Position(owner)
	if err != nil || position == nil {
		return set, nil
	}
	for _, mint := range []string{position.CollateralMint, position.DebtMint} {
		if mint == "" {
			continue
		}
		if _, ok := set.Quote(mint); ok {
			continue
		}
		quote, err := s.oracle.Quote(mint)
		if err != nil {
			continue
		}
		set.Set(mint, quote)
	}
	return set, nil
}

type publishPricesRequest struct {
	Prices pricesPayload `json:"prices"`
}

func (s *Server) handlePublishPrices(w http.ResponseWriter, req *http.Request) {
	var body publishPricesRequest
	if !s.decode(w, req, &body) {
		return
	}
	set, err := body.Prices.toSet()
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	for mint, quote := range set {
		s.oracle.Publish(mint, quote)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"published": len(set)})
}

func (s *Server) decode(w http.ResponseWriter, req *http.Request, out interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, req.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func (s *Server) writeError(w http.ResponseWriter, req *http.Request, status int, err error) {
	s.logger.Warn("request failed",
		"path", req.URL.Path,
		"status", status,
		"error", err.Error(),
	)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeEngineError maps engine error kinds onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, req *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lending.ErrBankNotFound),
		errors.Is(err, lending.ErrPositionNotFound),
		errors.Is(err, lending.ErrSnapshotNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lending.ErrBankExists),
		errors.Is(err, lending.ErrPositionExists),
		errors.Is(err, lending.ErrSnapshotExists):
		status = http.StatusConflict
	case errors.Is(err, lending.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, nativecommon.ErrModulePaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, lending.ErrInvalidThreshold),
		errors.Is(err, lending.ErrInvalidAlertFrequency),
		errors.Is(err, lending.ErrInvalidTimestamp),
		errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrMintMismatch),
		errors.Is(err, lending.ErrOverflow):
		status = http.StatusBadRequest
	case errors.Is(err, lending.ErrExceedsLtv),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrInsufficientDebt),
		errors.Is(err, lending.ErrPositionHealthy),
		errors.Is(err, lending.ErrLiquidationWorsensHealth),
		errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrInsufficientLiquidity):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, lending.ErrStalePrice),
		errors.Is(err, lending.ErrPriceConfidenceTooWide),
		errors.Is(err, lending.ErrPriceUnavailable):
		status = http.StatusUnprocessableEntity
	}
	s.writeError(w, req, status, err)
}

func parseAddress(raw string) (crypto.Address, error) {
	return crypto.DecodeAddress(raw)
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.New("invalid amount")
	}
	return amount, nil
}

func (s *Server) now() int64 { return s.clock().Unix() }

type initBankRequest struct {
	Caller                  string `json:"caller"`
	Mint                    string `json:"mint"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	MaxLTVBps               uint64 `json:"maxLtvBps"`
}

func (s *Server) handleInitBank(w http.ResponseWriter, req *http.Request) {
	var body initBankRequest
	if !s.decode(w, req, &body) {
		return
	}
	caller, err := parseAddress(body.Caller)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	bank, err := s.engine.InitBank(caller, body.Mint, body.LiquidationThresholdBps, body.MaxLTVBps, lending.InterestCurve{}, s.now())
	s.metrics.ObserveOperation("initBank", err)
	if err != nil {
		s.writeEngineError(w, req, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, bankView(bank))
}

type initUserRequest struct {
	Owner    string `json:"owner"`
	DebtMint string `json:"debtMint"`
}

func (s *Server) handleInitUser(w http.ResponseWriter, req *http.Request) {
	var body initUserRequest
	if !s.decode(w, req, &body) {
		return
	}
	owner, err := parseAddress(body.Owner)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	position, err := s.engine.InitUser(owner, body.DebtMint, s.now())
	s.metrics.ObserveOperation("initUser", err)
	if err != nil {
		s.writeEngineError(w, req, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, positionView(position))
}

type balanceRequest struct {
	Owner  string        `json:"owner"`
	Mint   string        `json:"mint,omitempty"`
	Amount string        `json:"amount"`
	Prices pricesPayload `json:"prices,omitempty"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, req *http.Request) {
	s.handleBalanceOp(w, req, "deposit", func(owner crypto.Address, body balanceRequest, amount *big.Int, _ lending.PriceSet) error {
		return s.engine.Deposit(owner, body.Mint, amount, s.now())
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, req *http.Request) {
	s.handleBalanceOp(w, req, "withdraw", func(owner crypto.Address, body balanceRequest, amount *big.Int, prices lending.PriceSet) error {
		return s.engine.Withdraw(owner, body.Mint, amount, prices, s.now())
	})
}

func (s *Server) handleBorrow(w http.ResponseWriter, req *http.Request) {
	s.handleBalanceOp(w, req, "borrow", func(owner crypto.Address, _ balanceRequest, amount *big.Int, prices lending.PriceSet) error {
		return s.engine.Borrow(owner, amount, prices, s.now())
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, req *http.Request) {
	s.handleBalanceOp(w, req, "repay", func(owner crypto.Address, _ balanceRequest, amount *big.Int, _ lending.PriceSet) error {
		return s.engine.Repay(owner, amount, s.now())
	})
}

func (s *Server) handleBalanceOp(w http.ResponseWriter, req *http.Request, op string, apply func(crypto.Address, balanceRequest, *big.Int, lending.PriceSet) error) {
	var body balanceRequest
	if !s.decode(w, req, &body) {
		return
	}
	owner, err := parseAddress(body.Owner)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	prices, err := s.resolvePrices(body.Prices, owner)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	err = apply(owner, body, amount, prices)
	s.metrics.ObserveOperation(op, err)
	if err != nil {
		s.writeEngineError(w, req, err)
		return
	}
	position, err := s.engine.Position(owner)
	if err != nil {
		s.writeEngineError(w, req, err)
		return
	}
	s.publishPoolGauges(position.CollateralMint, position.DebtMint)
	s.writeJSON(w, http.StatusOK, positionView(position))
}

type monitoringRequest struct {
	Owner string `json:"owner"`
}

func (s *Server) handleEnableMonitoring(w http.ResponseWriter, req *http.Request) {
	var body monitoringRequest
	if !s.decode(w, req, &body) {
		return
	}
	owner, err := parseAddress(body.Owner)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	err = s.engine.EnableHealthMonitoring(owner, s.now())
	s.metrics.ObserveOperation("enableHealthMonitoring", err)
	if err != nil {
		s.writeEngineError(w, req, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"monitoringEnabled": true})
}

type thresholdRequest struct {
	Owner          string `json:"owner"`
	ThresholdBps   uint64 `json:"thresholdBps"`
	FrequencyHours uint64 `json:"frequencyHours"`
}

func (s *Server) handleUpdateThreshold(w http.ResponseWriter, req *http.Request) {
	var body thresholdRequest
	if !s.decode(w, req, &body) {
		return
	}
	owner, err := parseAddress(body.Owner)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	err = s.engine.UpdateHealthThreshold(owner, body.ThresholdBps, body.FrequencyHours)
	s.metrics.ObserveOperation("updateHealthThreshold", err)
	if err != nil {
		s.writeEngineError(w, req, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{
		"thresholdBps":   body.ThresholdBps,
		"frequencyHours": body.FrequencyHours,
	})
}

type healthCheckRequest struct {
	Owner  string        `json:"owner"`
	Prices pricesPayload `json:"prices"`
}

type healthCheckResponse struct {
	HealthFactor    string `json:"healthFactor"`
	Status          string `json:"status"`
	CollateralValue string `json:"collateralValue"`
	BorrowedValue   string `json:"borrowedValue"`
	AlertFired      bool   `json:"alertFired"`
	NotificationID  string `json:"notificationId,omitempty"`
}

func (s *Server) handleCheckHealth(w http.ResponseWriter, req *http.Request) {
	var body healthCheckRequest
	if !s.decode(w, req, &body) {
		return
	}
	owner, err := parseAddress(body.Owner)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	prices, err := s.resolvePrices(body.Prices, owner)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	result, err := s.engine.CheckHealthFactor(owner, prices, s.now())
	s.metrics.ObserveOperation("checkHealthFactor", err)
	if err != nil {
		s.writeEngineError(w, req, err)
		return
	}
	resp := healthCheckResponse{
		HealthFactor:    formatFactor(result.HealthFactorBps),
		Status:          result.Status.String(),
		CollateralValue: result.CollateralValue.String(),
		BorrowedValue:   result.BorrowedValue.String(),
		AlertFired:      result.AlertFired,
	}
	if result.AlertFired {
		// Notification IDs let downstream alert consumers deduplicate.
		resp.NotificationID = uuid.NewString()
		s.metrics.IncAlertFired()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, req *http.Request) {
	var body healthCheckRequest
	if !s.decode(w, req, &body) {
		return
	}
	owner, err := parseAddress(body.Owner)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	prices, err := s.resolvePrices(body.Prices, owner)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	snapshot, err := s.engine.CreateHealthSnapshot(owner, prices, s.now())
	s.metrics.ObserveOperation("createHealthSnapshot", err)
	if err != nil {
		s.writeEngineError(w, req, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, snapshotView(snapshot))
}

type liquidateRequest struct {
	Liquidator  string        `json:"liquidator"`
	Owner       string        `json:"owner"`
	RepayAmount string        `json:"repayAmount"`
	Prices      pricesPayload `json:"prices"`
}

type liquidateResponse struct {
	DebtRepaid          string `json:"debtRepaid"`
	CollateralSeized    string `json:"collateralSeized"`
	HealthFactorBefore  string `json:"healthFactorBefore"`
	HealthFactorAfter   string `json:"healthFactorAfter"`
	BadDebt             bool   `json:"badDebt"`
	RemainingDebt       string `json:"remainingDebt"`
	RemainingCollateral string `json:"remainingCollateral"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, req *http.Request) {
	var body liquidateRequest
	if !s.decode(w, req, &body) {
		return
	}
	liquidator, err := parseAddress(body.Liquidator)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	owner, err := parseAddress(body.Owner)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(body.RepayAmount)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	prices, err := s.resolvePrices(body.Prices, owner)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	result, err := s.engine.Liquidate(liquidator, owner, amount, prices, s.now())
	s.metrics.ObserveOperation("liquidate", err)
	if err != nil {
		s.writeEngineError(w, req, err)
		return
	}
	s.metrics.IncLiquidation(result.BadDebt)
	s.writeJSON(w, http.StatusOK, liquidateResponse{
		DebtRepaid:          result.DebtRepaid.String(),
		CollateralSeized:    result.CollateralSeized.String(),
		HealthFactorBefore:  formatFactor(result.FactorBeforeBps),
		HealthFactorAfter:   formatFactor(result.FactorAfterBps),
		BadDebt:             result.BadDebt,
		RemainingDebt:       result.RemainingDebt.String(),
		RemainingCollateral: result.RemainingCollateral.String(),
	})
}

func (s *Server) handleGetBank(w http.ResponseWriter, req *http.Request) {
	bank, err := s.engine.Bank(chi.URLParam(req, "mint"))
	if err != nil {
		s.writeEngineError(w, req, err)
		return
	}
	s.writeJSON(w, http.StatusOK, bankView(bank))
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, req *http.Request) {
	status, err := s.engine.PoolStatus(chi.URLParam(req, "mint"))
	if err != nil {
		s.writeEngineError(w, req, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"mint":           status.Mint,
		"totalDeposits":  status.TotalDeposits.String(),
		"totalBorrowed":  status.TotalBorrowed.String(),
		"utilizationBps": status.UtilizationBps,
		"borrowRateBps":  status.BorrowRateBps,
	})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, req *http.Request) {
	owner, err := parseAddress(chi.URLParam(req, "address"))
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	position, err := s.engine.Position(owner)
	if err != nil {
		s.writeEngineError(w, req, err)
		return
	}
	s.writeJSON(w, http.StatusOK, positionView(position))
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, req *http.Request) {
	owner, err := parseAddress(chi.URLParam(req, "address"))
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	sequence, err := strconv.ParseUint(chi.URLParam(req, "sequence"), 10, 64)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err)
		return
	}
	snapshot, err := s.engine.Snapshot(owner, sequence)
	if err != nil {
		s.writeEngineError(w, req, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshotView(snapshot))
}

func (s *Server) publishPoolGauges(mints ...string) {
	seen := make(map[string]bool, len(mints))
	for _, mint := range mints {
		if mint == "" || seen[mint] {
			continue
		}
		seen[mint] = true
		status, err := s.engine.PoolStatus(mint)
		if err != nil {
			continue
		}
		deposits, _ := new(big.Float).SetInt(status.TotalDeposits).Float64()
		borrowed, _ := new(big.Float).SetInt(status.TotalBorrowed).Float64()
		s.metrics.SetPoolGauges(mint, status.UtilizationBps, deposits, borrowed)
	}
}

func formatFactor(factor uint64) string {
	if factor == lending.HealthFactorInfinite {
		return "infinite"
	}
	return strconv.FormatUint(factor, 10)
}

func bankView(bank *lending.Bank) map[string]interface{} {
	return map[string]interface{}{
		"mint":                    bank.Mint,
		"totalDeposits":           bank.TotalDeposits.String(),
		"totalBorrowed":           bank.TotalBorrowed.String(),
		"liquidationThresholdBps": bank.LiquidationThresholdBps,
		"maxLtvBps":               bank.MaxLTVBps,
		"lastAccrualTs":           bank.LastAccrualTs,
	}
}

func positionView(position *lending.UserPosition) map[string]interface{} {
	return map[string]interface{}{
		"owner":                 position.Owner.String(),
		"collateralMint":        position.CollateralMint,
		"debtMint":              position.DebtMint,
		"depositedCollateral":   position.DepositedCollateral.String(),
		"borrowedDebt":          position.BorrowedDebt.String(),
		"healthFactor":          formatFactor(position.HealthFactorBps),
		"alertThresholdBps":     position.AlertThresholdBps,
		"alertFrequencySeconds": position.AlertFrequencySeconds,
		"monitoringEnabled":     position.MonitoringEnabled,
		"lastHealthCheckTs":     position.LastHealthCheckTs,
		"lastAlertSentTs":       position.LastAlertSentTs,
		"healthHistoryCount":    position.HealthHistoryCount,
		"badDebt":               position.BadDebt,
	}
}

func snapshotView(snapshot *lending.HealthSnapshot) map[string]interface{} {
	return map[string]interface{}{
		"user":                 snapshot.User.String(),
		"sequenceIndex":        snapshot.SequenceIndex,
		"timestamp":            snapshot.Timestamp,
		"healthFactor":         formatFactor(snapshot.HealthFactorBps),
		"totalCollateralValue": snapshot.TotalCollateralValue.String(),
		"totalBorrowedValue":   snapshot.TotalBorrowedValue.String(),
		"collateralPrice":      snapshot.CollateralPrice.String(),
		"debtPrice":            snapshot.DebtPrice.String(),
	}
}
