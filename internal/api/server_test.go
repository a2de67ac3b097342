package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody-ledger/internal/address"
	"custody-ledger/internal/auth"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/exchange"
	"custody-ledger/internal/ledger"
	"custody-ledger/internal/storage"
	"custody-ledger/internal/storage/memory"
)

const sol = 1_000_000_000

var (
	testProgramID = address.MustParse("4wBqpZM9xaSheZzJSMawUKKwhdpChKbZ5eu5ky4Vigw")
	testNow       = time.Unix(1_700_000_000, 0)
)

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	engine *ledger.Engine
	nonce  atomic.Int64

	admin, alice *auth.Keypair
}

func seeded(t *testing.T, fill byte) *auth.Keypair {
	t.Helper()
	kp, err := auth.FromSeed(bytes.Repeat([]byte{fill}, 32))
	require.NoError(t, err)
	return kp
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := ledger.New(ledger.Options{
		Store:     memory.NewLedgerStore(),
		Exchange:  exchange.NewFixedRate(1, 25),
		Journal:   memory.NewActivityJournal(),
		ProgramID: testProgramID,
		Logger:    logger,
		Clock:     func() time.Time { return testNow },
	})
	require.NoError(t, err)

	s := New(Config{
		Engine:        engine,
		Logger:        logger,
		EnableAirdrop: true,
		NonceTTL:      5 * time.Minute,
		Now:           func() time.Time { return testNow },
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testServer{
		t:      t,
		srv:    srv,
		engine: engine,
		admin:  seeded(t, 1),
		alice:  seeded(t, 2),
	}
}

func (ts *testServer) do(method, path string, body any) (*http.Response, []byte) {
	ts.t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(ts.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(ts.t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)
	return resp, data
}

// submit seals op for kp with a fresh nonce and returns the envelope too.
func (ts *testServer) submit(kp *auth.Keypair, op auth.Operation) (*http.Response, []byte, *auth.Envelope) {
	ts.t.Helper()
	if op.Nonce == "" {
		op.Nonce = fmt.Sprintf("n-%d", ts.nonce.Add(1))
	}
	if op.ExpiresAt == 0 {
		op.ExpiresAt = testNow.Add(time.Minute).Unix()
	}
	env, err := auth.Seal(kp, &op)
	require.NoError(ts.t, err)
	resp, body := ts.do(http.MethodPost, "/v1/operations", env)
	return resp, body, env
}

func (ts *testServer) mustSubmit(kp *auth.Keypair, op auth.Operation) operationResponse {
	ts.t.Helper()
	resp, body, _ := ts.submit(kp, op)
	require.Equal(ts.t, http.StatusOK, resp.StatusCode, string(body))
	var out operationResponse
	require.NoError(ts.t, json.Unmarshal(body, &out))
	return out
}

func (ts *testServer) bootstrap() {
	ts.t.Helper()
	ts.mustSubmit(ts.admin, auth.Operation{Op: domain.OpInitializeLedger})
	resp, body := ts.do(http.MethodPost, "/v1/airdrop", airdropRequest{To: ts.alice.Public(), Amount: 10 * sol})
	require.Equal(ts.t, http.StatusOK, resp.StatusCode, string(body))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestOperations_DepositWithdrawFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.bootstrap()

	out := ts.mustSubmit(ts.alice, auth.Operation{Op: domain.OpDeposit, Amount: 2 * sol})
	require.NotNil(t, out.UserLedger)
	assert.Equal(t, uint64(2*sol), out.UserLedger.CurrentBalance)

	resp, body := ts.do(http.MethodGet, "/v1/users/"+ts.alice.Public().String()+"/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bal balanceJSON
	require.NoError(t, json.Unmarshal(body, &bal))
	assert.Equal(t, uint64(2*sol), bal.CurrentBalance)
	assert.Equal(t, "2", bal.Formatted)

	resp, body, _ = ts.submit(ts.alice, auth.Operation{Op: domain.OpWithdraw, Amount: 3 * sol})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	out = ts.mustSubmit(ts.alice, auth.Operation{Op: domain.OpWithdraw, Amount: sol / 2})
	assert.Equal(t, uint64(3*sol/2), out.UserLedger.CurrentBalance)

	resp, body = ts.do(http.MethodGet, "/v1/vault/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats vaultStatsJSON
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, uint64(3*sol/2), stats.TotalDeposited)
	assert.True(t, stats.Balanced)

	resp, body = ts.do(http.MethodGet, "/v1/users/"+ts.alice.Public().String()+"/activity?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var acts []activityJSON
	require.NoError(t, json.Unmarshal(body, &acts))
	require.Len(t, acts, 1)
	assert.Equal(t, domain.OpWithdraw, acts[0].Op)
}

func TestOperations_SwapFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.bootstrap()
	ts.mustSubmit(ts.admin, auth.Operation{Op: domain.OpInitializeTokenCustody})
	ts.mustSubmit(ts.alice, auth.Operation{Op: domain.OpDeposit, Amount: 2 * sol})
	ts.mustSubmit(ts.alice, auth.Operation{Op: domain.OpWrap, Amount: sol})

	// 1 SOL at 1/25 yields 40_000_000; asking for more is rejected upstream.
	resp, body, _ := ts.submit(ts.alice, auth.Operation{Op: domain.OpUserSwap, Amount: sol, MinimumOut: 50_000_000})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode, string(body))

	out := ts.mustSubmit(ts.alice, auth.Operation{Op: domain.OpUserSwap, Amount: sol, MinimumOut: 40_000_000})
	require.NotNil(t, out.Swap)
	assert.Equal(t, uint64(40_000_000), out.Swap.Received)
	assert.Equal(t, "a_to_b", out.Swap.Direction)

	resp, body = ts.do(http.MethodGet, "/v1/swap-state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st swapStateJSON
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, uint64(1), st.SwapCount)
	assert.NotEqual(t, "0", st.LastPrice)

	resp, body = ts.do(http.MethodGet, "/v1/users/"+ts.alice.Public().String()+"/tokens", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tb tokenBalanceJSON
	require.NoError(t, json.Unmarshal(body, &tb))
	assert.Equal(t, uint64(40_000_000), tb.BalanceB)

	resp, body = ts.do(http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status statusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.True(t, status.Balanced)
	assert.Equal(t, ts.engine.Addresses().CustodyAccountB, status.Addresses.CustodyAccountB)
}

func TestOperations_EnvelopeRejections(t *testing.T) {
	ts := newTestServer(t)
	ts.bootstrap()

	t.Run("replayed nonce", func(t *testing.T) {
		resp, body, env := ts.submit(ts.alice, auth.Operation{Op: domain.OpDeposit, Amount: 1})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		resp, _ = ts.do(http.MethodPost, "/v1/operations", env)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("tampered payload", func(t *testing.T) {
		op := auth.Operation{Op: domain.OpDeposit, Amount: 1, Nonce: "tamper", ExpiresAt: testNow.Add(time.Minute).Unix()}
		env, err := auth.Seal(ts.alice, &op)
		require.NoError(t, err)
		env.Payload = bytes.Replace(env.Payload, []byte(`"amount":1`), []byte(`"amount":9`), 1)

		resp, _ := ts.do(http.MethodPost, "/v1/operations", env)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("expired", func(t *testing.T) {
		resp, _, _ := ts.submit(ts.alice, auth.Operation{Op: domain.OpDeposit, Amount: 1, ExpiresAt: testNow.Add(-time.Second).Unix()})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("expiry too far ahead", func(t *testing.T) {
		resp, _, _ := ts.submit(ts.alice, auth.Operation{Op: domain.OpDeposit, Amount: 1, ExpiresAt: testNow.Add(time.Hour).Unix()})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unsupported op", func(t *testing.T) {
		resp, _, _ := ts.submit(ts.alice, auth.Operation{Op: domain.OpAirdrop, Amount: 1})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, _ := ts.do(http.MethodPost, "/v1/operations", map[string]any{"bogus": true})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("withdraw from another owner", func(t *testing.T) {
		ts.mustSubmit(ts.alice, auth.Operation{Op: domain.OpDeposit, Amount: 10})
		resp, _, _ := ts.submit(ts.admin, auth.Operation{Op: domain.OpWithdraw, Owner: ts.alice.Public(), Amount: 1})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestOperations_InitializeLedgerForeignAdministrator(t *testing.T) {
	ts := newTestServer(t)

	resp, body, _ := ts.submit(ts.alice, auth.Operation{Op: domain.OpInitializeLedger, Owner: ts.admin.Public()})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, string(body))

	resp, _ = ts.do(http.MethodGet, "/v1/vault/stats", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	out := ts.mustSubmit(ts.admin, auth.Operation{Op: domain.OpInitializeLedger})
	require.NotNil(t, out.Ledger)
	assert.Equal(t, ts.admin.Public(), out.Ledger.Administrator)
}

func TestViews_Errors(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(http.MethodGet, "/v1/token-custody", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(http.MethodGet, "/v1/users/not-an-address!/balance", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(http.MethodGet, "/v1/users/"+ts.alice.Public().String()+"/activity?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAirdrop_DisabledByDefault(t *testing.T) {
	engine, err := ledger.New(ledger.Options{Store: memory.NewLedgerStore(), ProgramID: testProgramID})
	require.NoError(t, err)
	srv := httptest.NewServer(New(Config{Engine: engine, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/airdrop", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrOwnerMismatch, http.StatusForbidden},
		{domain.ErrInsufficientUserBalance, http.StatusConflict},
		{domain.ErrMathOverflow, http.StatusUnprocessableEntity},
		{domain.ErrAlreadyInitialized, http.StatusConflict},
		{domain.ErrNotInitialized, http.StatusNotFound},
		{domain.ErrTokenAccountNotInitialized, http.StatusNotFound},
		{storage.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: boom", domain.ErrSwapFailed), http.StatusBadGateway},
		{domain.ErrSlippageExceeded, http.StatusBadGateway},
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{errBadRequest, http.StatusBadRequest},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestNonceSet(t *testing.T) {
	s := newNonceSet(time.Minute)
	signer := address.Address{1}
	exp := testNow.Add(time.Minute)

	assert.True(t, s.accept(signer, "a", exp, testNow))
	assert.False(t, s.accept(signer, "a", exp, testNow.Add(time.Second)))
	assert.True(t, s.accept(address.Address{2}, "a", exp, testNow))

	// Expired entries are collected and may be reused.
	later := exp.Add(2 * time.Minute)
	assert.True(t, s.accept(signer, "b", later.Add(time.Minute), later))
	assert.Equal(t, 1, s.len())
	assert.True(t, s.accept(signer, "a", later.Add(time.Minute), later))
}
