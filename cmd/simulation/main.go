package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ksred/payrelay/internal/reconcile"
	"github.com/ksred/payrelay/internal/signature"
	"github.com/ksred/payrelay/internal/types"
	"github.com/ksred/payrelay/internal/webhook"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	minOrders  = 15
	maxOrders  = 150
	numWorkers = 5

	maxRetries   = 10
	retryBackoff = 700 * time.Millisecond
)

var currencies = []string{"INR", "USD", "EUR"}

// scenario is the sequence of payment signals sent for one order
type scenario string

const (
	scenarioCallback       scenario = "callback"
	scenarioWebhookReplay  scenario = "webhook_replay"
	scenarioFailedThenPaid scenario = "failed_then_paid"
	scenarioTampered       scenario = "tampered"
)

var scenarios = []scenario{scenarioCallback, scenarioWebhookReplay, scenarioFailedThenPaid, scenarioTampered}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient drives the relay API the way a shop backend and the
// payment gateway would
type simulationClient struct {
	baseURL       string
	authToken     string
	keySecret     string
	webhookSecret string
	client        *http.Client

	mu    sync.Mutex
	stats map[string]*routeStats
}

// apiResponse mirrors the relay's response envelope
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// createdOrder is what the simulation remembers about an order
type createdOrder struct {
	OrderID        string `json:"order_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	scenario       scenario
}

// newSimulationClient creates and authenticates a simulation client
func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL:       getenv("SERVER_ADDRESS", "http://localhost:8080"),
		keySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
		webhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"create":   {name: "Create Order"},
			"get":      {name: "Get Order"},
			"callback": {name: "Payment Callback"},
			"webhook":  {name: "Webhook"},
		},
	}
	if sc.keySecret == "" || sc.webhookSecret == "" {
		return nil, fmt.Errorf("RAZORPAY_KEY_SECRET and RAZORPAY_WEBHOOK_SECRET must match the server")
	}

	token, err := sc.authenticate(getenv("SIM_API_KEY", "sim-client"), getenv("SIM_API_SECRET", "sim-secret"))
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// call sends a request and records its latency under route.
// Any status other than want counts as a failure.
func (sc *simulationClient) call(route, method, path string, body []byte, headers map[string]string, want int) (*apiResponse, error) {
	start := time.Now()
	var status int
	defer func() {
		sc.mu.Lock()
		defer sc.mu.Unlock()
		sc.stats[route].addDuration(time.Since(start))
		if status != want {
			sc.stats[route].failures++
		}
	}()

	var respBody []byte
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequest(method, sc.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if sc.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+sc.authToken)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := sc.client.Do(req)
		if err != nil {
			return nil, err
		}
		status = resp.StatusCode
		respBody, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		if status != http.StatusTooManyRequests || attempt == maxRetries {
			break
		}
		log.Debug().Str("route", route).Int("attempt", attempt+1).Msg("rate limited, backing off")
		time.Sleep(retryBackoff)
	}
	log.Debug().Str("route", route).Int("status", status).Str("response", string(respBody)).Msg("API response")

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if status != want {
		return &result, fmt.Errorf("%s returned status %d, expected %d: %s", route, status, want, string(respBody))
	}
	return &result, nil
}

// authenticate exchanges API credentials for a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	body, err := json.Marshal(map[string]string{"api_key": apiKey, "api_secret": apiSecret})
	if err != nil {
		return "", err
	}

	result, err := sc.call("auth", http.MethodPost, "/api/v1/auth/token", body, nil, http.StatusCreated)
	if err != nil {
		return "", err
	}

	var token struct {
		Token string `json:"jwt_token"`
	}
	if err := json.Unmarshal(result.Data, &token); err != nil {
		return "", err
	}
	return token.Token, nil
}

// createOrder opens an order for a random amount
func (sc *simulationClient) createOrder() (*createdOrder, error) {
	amount := decimal.New(int64(rand.Intn(500000)+100), -2)
	body, err := json.Marshal(map[string]string{
		"amount":   amount.StringFixed(2),
		"currency": currencies[rand.Intn(len(currencies))],
	})
	if err != nil {
		return nil, err
	}

	result, err := sc.call("create", http.MethodPost, "/api/v1/orders", body, nil, http.StatusCreated)
	if err != nil {
		return nil, err
	}

	var order createdOrder
	if err := json.Unmarshal(result.Data, &order); err != nil {
		return nil, err
	}
	if order.OrderID == "" || order.GatewayOrderID == "" {
		return nil, fmt.Errorf("order ids missing from response")
	}
	order.scenario = scenarios[rand.Intn(len(scenarios))]
	return &order, nil
}

// getOrder retrieves the current status of an order
func (sc *simulationClient) getOrder(orderID string) (*types.Order, error) {
	result, err := sc.call("get", http.MethodGet, "/api/v1/orders/"+orderID, nil, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var order types.Order
	if err := json.Unmarshal(result.Data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// sendCallback submits a correctly signed checkout callback
func (sc *simulationClient) sendCallback(order *createdOrder, paymentID string) error {
	body, err := json.Marshal(map[string]string{
		"razorpay_order_id":   order.GatewayOrderID,
		"razorpay_payment_id": paymentID,
		"razorpay_signature":  signature.SignCallback(sc.keySecret, order.GatewayOrderID, paymentID),
	})
	if err != nil {
		return err
	}

	_, err = sc.call("callback", http.MethodPost, "/api/v1/payments/callback", body, nil, http.StatusOK)
	return err
}

// sendWebhook delivers a payment event signed over its raw body.
// A tampered delivery carries a signature for different bytes.
func (sc *simulationClient) sendWebhook(order *createdOrder, event, paymentID string, tampered bool) error {
	envelope := reconcile.WebhookEnvelope{
		Entity:   "event",
		Event:    event,
		Contains: []string{"payment"},
		Payload: &reconcile.WebhookPayload{
			Payment: &reconcile.PaymentWrapper{Entity: reconcile.PaymentEntity{
				ID:       paymentID,
				OrderID:  order.GatewayOrderID,
				Currency: order.Currency,
			}},
		},
		CreatedAt: time.Now().Unix(),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	sig := signature.Sign(sc.webhookSecret, body)
	want := http.StatusOK
	if tampered {
		sig = signature.Sign(sc.webhookSecret, append(body, ' '))
		want = http.StatusBadRequest
	}

	_, err = sc.call("webhook", http.MethodPost, "/api/v1/webhooks/razorpay", body,
		map[string]string{webhook.SignatureHeader: sig}, want)
	return err
}

// settle plays the order's scenario and returns the status it should end in
func (sc *simulationClient) settle(order *createdOrder) (types.Status, error) {
	paymentID := fmt.Sprintf("pay_%d", rand.Int63())

	switch order.scenario {
	case scenarioCallback:
		return types.StatusPaid, sc.sendCallback(order, paymentID)
	case scenarioWebhookReplay:
		for i := 0; i < 2; i++ {
			if err := sc.sendWebhook(order, reconcile.EventPaymentCaptured, paymentID, false); err != nil {
				return "", err
			}
		}
		return types.StatusPaid, nil
	case scenarioFailedThenPaid:
		if err := sc.sendWebhook(order, reconcile.EventPaymentFailed, paymentID+"_1", false); err != nil {
			return "", err
		}
		if err := sc.sendCallback(order, paymentID); err != nil {
			return "", err
		}
		// A late failure for the first attempt must not undo the payment
		return types.StatusPaid, sc.sendWebhook(order, reconcile.EventPaymentFailed, paymentID+"_1", false)
	default:
		return types.StatusPending, sc.sendWebhook(order, reconcile.EventPaymentCaptured, paymentID, true)
	}
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the payment simulation against a relay started with GATEWAY_MODE=fake
func main() {
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")
	start := time.Now()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		expected = make(map[string]types.Status)
		byKind   = make(map[scenario]int)
		failures int
	)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for n := 0; n < targetOrders/numWorkers; n++ {
				order, err := simClient.createOrder()
				if err != nil {
					log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to create order")
					mu.Lock()
					failures++
					mu.Unlock()
					continue
				}

				want, err := simClient.settle(order)

				mu.Lock()
				if err != nil {
					log.Error().Err(err).Str("order_id", order.OrderID).Str("scenario", string(order.scenario)).Msg("Scenario failed")
					failures++
				} else {
					expected[order.OrderID] = want
					byKind[order.scenario]++
				}
				mu.Unlock()

				time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	mismatches := 0
	for orderID, want := range expected {
		order, err := simClient.getOrder(orderID)
		if err != nil {
			log.Error().Err(err).Str("order_id", orderID).Msg("Failed to fetch order")
			mismatches++
			continue
		}
		if order.Status != want {
			log.Error().
				Str("order_id", orderID).
				Str("expected", string(want)).
				Str("actual", string(order.Status)).
				Msg("Order ended in unexpected status")
			mismatches++
		}
	}

	duration := time.Since(start)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("PAYMENT RELAY SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Orders verified:   %d\n", len(expected))
	fmt.Printf("Scenario failures: %d\n", failures)
	fmt.Printf("Status mismatches: %d\n", mismatches)
	fmt.Printf("Duration:          %v\n\n", duration.Round(time.Millisecond))
	for _, kind := range scenarios {
		fmt.Printf("%-18s %d\n", kind, byKind[kind])
	}

	log.Info().
		Int("orders", len(expected)).
		Int("failures", failures).
		Int("mismatches", mismatches).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()

	if failures > 0 || mismatches > 0 {
		os.Exit(1)
	}
}
