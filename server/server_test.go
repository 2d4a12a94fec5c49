package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/events"
	"github.com/vitwit/paygate/pricing"
	"github.com/vitwit/paygate/replay"
	"github.com/vitwit/paygate/settlement"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/verification"
)

var receiver = common.HexToAddress("0x1111111111111111111111111111111111111111")

type stubGenerator struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (g *stubGenerator) Generate(_ context.Context, modelID, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return "answer from " + modelID + ": " + prompt, nil
}

func (g *stubGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type env struct {
	t         *testing.T
	chain     *clients.MockClient
	guard     *replay.MemoryGuard
	prices    *pricing.Table
	ai        *stubGenerator
	publisher *events.MockPublisher
	handler   http.Handler
	key       *ecdsa.PrivateKey
	nonce     uint64
}

func newEnv(t *testing.T, receiverAddr string, opts ...Option) *env {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	prices, err := pricing.Default("TCRO", 18)
	require.NoError(t, err)

	e := &env{
		t:         t,
		chain:     clients.NewMockClient(types.CronosTestnet),
		guard:     replay.NewMemoryGuard(),
		prices:    prices,
		ai:        &stubGenerator{},
		publisher: events.NewMockPublisher(),
		key:       key,
	}

	verifier := verification.NewVerifier(e.chain, prices, e.guard, verification.Config{
		Mode:     types.ModeDirect,
		Receiver: receiverAddr,
		Network:  types.CronosTestnet,
		Timeout:  time.Second,
	})
	relay := settlement.NewRelay(e.chain, types.CronosTestnet, time.Second)

	srv := New(Deps{
		Verifier:  verifier,
		Relayer:   relay,
		Generator: e.ai,
		Catalog:   prices,
		Consumed:  e.guard,
		Network:   types.CronosTestnet,
		Receiver:  receiverAddr,
		Version:   "test",
	}, append([]Option{WithPublisher(e.publisher)}, opts...)...)
	e.handler = srv.Handler()
	return e
}

func (e *env) price(model string) *big.Int {
	p, ok := e.prices.PriceOf(model)
	require.True(e.t, ok)
	return p
}

func (e *env) signTx(to common.Address, value *big.Int) *ethtypes.Transaction {
	e.nonce++
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    e.nonce,
		GasPrice: big.NewInt(5_000_000_000_000),
		Gas:      21000,
		To:       &to,
		Value:    value,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(big.NewInt(338)), e.key)
	require.NoError(e.t, err)
	return signed
}

// pay puts a mined transfer of value to `to` on the chain.
func (e *env) pay(to common.Address, value *big.Int) string {
	tx := e.signTx(to, value)
	e.chain.AddTransaction(tx, &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful})
	return tx.Hash().Hex()
}

func (e *env) post(path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(e.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) chat(hash, model string) *httptest.ResponseRecorder {
	headers := map[string]string{}
	if hash != "" {
		headers[HeaderPaymentHash] = hash
	}
	return e.post("/chat", headers, map[string]string{"prompt": "What is Cronos?", "model": model})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func consumed(t *testing.T, g *replay.MemoryGuard) int {
	n, err := g.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestChat_MissingHeaderAdvertisesPayment(t *testing.T) {
	e := newEnv(t, receiver.Hex())

	rec := e.chat("", "groq")
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "payment_required", body["code"])
	info := body["paymentInfo"].(map[string]any)
	assert.Equal(t, receiver.Hex(), info["receiver"])
	assert.Equal(t, float64(338), info["chainId"])
	assert.Equal(t, "TCRO", info["currency"])
	assert.Len(t, info["models"], len(pricing.DefaultEntries()))
	assert.Zero(t, e.ai.count())
}

func TestChat_AcceptsOnceThenRejectsReplay(t *testing.T) {
	e := newEnv(t, receiver.Hex())
	hash := e.pay(receiver, e.price("groq"))

	rec := e.chat(hash, "groq")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, strings.ToLower(hash), body["txHash"])
	assert.Equal(t, "groq", body["model"])
	assert.Equal(t, "Llama 3.3 70B", body["modelName"])
	assert.Contains(t, body["response"], "What is Cronos?")

	rec = e.chat(strings.ToUpper(hash[2:]), "groq")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "duplicate_transaction", decode(t, rec)["code"])

	assert.Equal(t, 1, e.ai.count())
	assert.Equal(t, 1, consumed(t, e.guard))

	published := e.publisher.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeVerified, published[0].Type)
}

func TestChat_Rejections(t *testing.T) {
	e := newEnv(t, receiver.Hex())
	stranger := common.HexToAddress("0x3333333333333333333333333333333333333333")
	below := new(big.Int).Sub(e.price("gpt-4o"), big.NewInt(1))

	pending := e.signTx(receiver, e.price("groq"))
	e.chain.AddTransaction(pending, nil)

	reverted := e.signTx(receiver, e.price("groq"))
	e.chain.AddTransaction(reverted, &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed})

	tests := []struct {
		name  string
		hash  string
		model string
		code  string
	}{
		{"unknown hash", "0x" + strings.Repeat("ab", 32), "groq", "transaction_not_found"},
		{"malformed hash", "0x1234", "groq", "invalid_transaction_hash"},
		{"pending", pending.Hash().Hex(), "groq", "transaction_pending"},
		{"reverted", reverted.Hash().Hex(), "groq", "transaction_failed"},
		{"wrong receiver", e.pay(stranger, e.price("groq")), "groq", "invalid_receiver"},
		{"underpaid", e.pay(receiver, below), "gpt-4o", "insufficient_payment"},
		{"unpriced model", e.pay(receiver, e.price("groq")), "claude-9", "invalid_model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.chat(tt.hash, tt.model)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode(t, rec)["code"])
		})
	}

	assert.Zero(t, consumed(t, e.guard))
	assert.Zero(t, e.ai.count())
}

func TestChat_PendingThenMinedIsAccepted(t *testing.T) {
	e := newEnv(t, receiver.Hex())
	tx := e.signTx(receiver, e.price("groq"))
	e.chain.AddTransaction(tx, nil)

	assert.Equal(t, http.StatusBadRequest, e.chat(tx.Hash().Hex(), "groq").Code)

	e.chain.AddTransaction(tx, &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful})
	assert.Equal(t, http.StatusOK, e.chat(tx.Hash().Hex(), "groq").Code)
}

func TestChat_InvalidBodyConsumesNothing(t *testing.T) {
	e := newEnv(t, receiver.Hex())
	hash := e.pay(receiver, e.price("groq"))

	rec := e.post("/chat", map[string]string{HeaderPaymentHash: hash}, `{"model":"groq"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode(t, rec)["code"])

	rec = e.post("/chat", map[string]string{HeaderPaymentHash: hash}, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Zero(t, consumed(t, e.guard))
	assert.Equal(t, http.StatusOK, e.chat(hash, "groq").Code)
}

func TestChat_InfrastructureFailures(t *testing.T) {
	e := newEnv(t, "")
	hash := e.pay(receiver, e.price("groq"))

	rec := e.chat(hash, "groq")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "server_misconfigured", decode(t, rec)["code"])

	e = newEnv(t, receiver.Hex())
	hash = e.pay(receiver, e.price("groq"))
	e.chain.SetReadError(errors.New("connection refused"))

	rec = e.chat(hash, "groq")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "chain_unavailable", decode(t, rec)["code"])
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Zero(t, consumed(t, e.guard))
}

func TestChat_ProviderFailureKeepsPaymentConsumed(t *testing.T) {
	e := newEnv(t, receiver.Hex())
	e.ai.err = errors.New("upstream down")
	hash := e.pay(receiver, e.price("gpt-4o"))

	rec := e.chat(hash, "gpt-4o")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ai_service_error", body["code"])
	assert.Equal(t, strings.ToLower(hash), body["txHash"])

	e.ai.err = nil
	assert.Equal(t, http.StatusForbidden, e.chat(hash, "gpt-4o").Code)
}

func TestChat_ConcurrentSameHash(t *testing.T) {
	e := newEnv(t, receiver.Hex())
	hash := e.pay(receiver, e.price("groq"))

	const n = 16
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- e.chat(hash, "groq").Code
		}()
	}
	wg.Wait()
	close(codes)

	ok := 0
	for c := range codes {
		if c == http.StatusOK {
			ok++
		} else {
			assert.Equal(t, http.StatusForbidden, c)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, e.ai.count())
}

func TestPremium_QuoteThenRelay(t *testing.T) {
	e := newEnv(t, receiver.Hex())
	body := map[string]string{"prompt": "hi", "model": "gemini-2.5-flash"}

	rec := e.post("/premium", nil, body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var quote premiumQuote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
	assert.Equal(t, e.price("gemini-2.5-flash").String(), quote.PaymentContext.AmountWei)
	assert.Equal(t, receiver.Hex(), quote.PaymentContext.Receiver)
	assert.Equal(t, int64(338), quote.PaymentContext.ChainID)
	assert.Equal(t, "transfer", quote.PaymentContext.Method)

	amount, ok := new(big.Int).SetString(quote.PaymentContext.AmountWei, 10)
	require.True(t, ok)
	raw, err := e.signTx(common.HexToAddress(quote.PaymentContext.Receiver), amount).MarshalBinary()
	require.NoError(t, err)

	rec = e.post("/premium", map[string]string{HeaderSignedTx: hexutil.Encode(raw)}, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "gemini-2.5-flash", out["model"])
	assert.Len(t, e.chain.Sent(), 1)

	published := e.publisher.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeRelayed, published[0].Type)
}

func TestPremium_RelayedPaymentCannotBeReusedOnChat(t *testing.T) {
	e := newEnv(t, receiver.Hex())
	body := map[string]string{"prompt": "hi", "model": "groq"}

	raw, err := e.signTx(receiver, e.price("groq")).MarshalBinary()
	require.NoError(t, err)
	rec := e.post("/premium", map[string]string{HeaderSignedTx: hexutil.Encode(raw)}, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	txHash, _ := decode(t, rec)["txHash"].(string)
	require.NotEmpty(t, txHash)
	assert.Equal(t, 1, consumed(t, e.guard))

	rec = e.chat(txHash, "groq")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "duplicate_transaction", decode(t, rec)["code"])
	assert.Equal(t, 1, e.ai.count())
}

func TestPremium_PaymentAlreadyUsedOnChat(t *testing.T) {
	e := newEnv(t, receiver.Hex())

	tx := e.signTx(receiver, e.price("groq"))
	e.chain.AddTransaction(tx, &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful})
	require.Equal(t, http.StatusOK, e.chat(tx.Hash().Hex(), "groq").Code)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	rec := e.post("/premium", map[string]string{HeaderSignedTx: hexutil.Encode(raw)}, map[string]string{"prompt": "again", "model": "groq"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "duplicate_transaction", out["code"])
	assert.Equal(t, tx.Hash().Hex(), out["txHash"])
	assert.Equal(t, 1, e.ai.count())
}

func TestPremium_Failures(t *testing.T) {
	e := newEnv(t, receiver.Hex())
	body := map[string]string{"prompt": "hi", "model": "groq"}
	below := new(big.Int).Sub(e.price("groq"), big.NewInt(1))

	raw, err := e.signTx(receiver, below).MarshalBinary()
	require.NoError(t, err)
	rec := e.post("/premium", map[string]string{HeaderSignedTx: hexutil.Encode(raw)}, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "insufficient_payment", out["code"])
	assert.NotEmpty(t, out["details"])
	assert.Empty(t, e.chain.Sent())

	rec = e.post("/premium", map[string]string{HeaderSignedTx: "0xdeadbeef"}, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.post("/premium", nil, map[string]string{"prompt": "hi", "model": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_model", decode(t, rec)["code"])

	e.chain.SetSendError(errors.New("nonce too low"))
	raw, err = e.signTx(receiver, e.price("groq")).MarshalBinary()
	require.NoError(t, err)
	rec = e.post("/premium", map[string]string{HeaderSignedTx: hexutil.Encode(raw)}, body)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "broadcast_failed", decode(t, rec)["code"])

	assert.Zero(t, e.ai.count())
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, receiver.Hex(), WithRateLimit(0.001, 2))

	assert.Equal(t, http.StatusPaymentRequired, e.chat("", "groq").Code)
	assert.Equal(t, http.StatusPaymentRequired, e.chat("", "groq").Code)

	rec := e.chat("", "groq")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decode(t, rec)["code"])
}

func TestClientLimiter_Eviction(t *testing.T) {
	l := newClientLimiter(1, 1)
	for i := 0; i < maxTrackedClients+10; i++ {
		l.get(string(rune(i)))
	}
	assert.LessOrEqual(t, len(l.limiters), maxTrackedClients)
}

func TestClientIP(t *testing.T) {
	direct := New(Deps{})
	proxied := New(Deps{}, WithTrustedProxies("10.0.0.0/8", "bogus"))
	require.Len(t, proxied.trustedProxies, 1)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", direct.clientIP(r))
	assert.Equal(t, "10.0.0.1", proxied.clientIP(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.7, 203.0.113.9, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", direct.clientIP(r), "untrusted peer cannot pick its identity")
	assert.Equal(t, "203.0.113.9", proxied.clientIP(r), "rightmost untrusted hop is the client")

	r.RemoteAddr = "203.0.113.50:5555"
	assert.Equal(t, "203.0.113.50", proxied.clientIP(r))
}

func TestRateLimit_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	e := newEnv(t, receiver.Hex(), WithRateLimit(0.001, 1))
	body := map[string]string{"prompt": "hi", "model": "groq"}

	limited := 0
	for i := 0; i < 20; i++ {
		rec := e.post("/chat", map[string]string{"X-Forwarded-For": fmt.Sprintf("10.0.0.%d", i)}, body)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 19, limited)
}

func TestRateLimit_TrustedProxyForwardsClients(t *testing.T) {
	// httptest requests come from 192.0.2.1.
	e := newEnv(t, receiver.Hex(), WithRateLimit(0.001, 1), WithTrustedProxies("192.0.2.1"))
	body := map[string]string{"prompt": "hi", "model": "groq"}

	for i := 0; i < 5; i++ {
		rec := e.post("/chat", map[string]string{"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i)}, body)
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	}

	rec := e.post("/chat", map[string]string{"X-Forwarded-For": "198.51.100.0"}, body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealthAndInfo(t *testing.T) {
	e := newEnv(t, receiver.Hex())
	require.Equal(t, http.StatusOK, e.chat(e.pay(receiver, e.price("groq")), "groq").Code)

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ok"])

	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode(t, rec)
	assert.Equal(t, "paygate", info["name"])
	assert.Equal(t, "direct", info["mode"])
	assert.Equal(t, float64(1), info["consumedPayments"])
	assert.Equal(t, receiver.Hex(), info["serverWallet"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t, receiver.Hex(), WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("paygate_up 1\n"))
	})))

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "paygate_up")

	e = newEnv(t, receiver.Hex())
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, receiver.Hex())
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", HeaderPaymentHash)

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
