package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"synthvault/native/bank"
	nativecommon "synthvault/native/common"
	"synthvault/native/vault"
	"synthvault/services/vaultd/journal"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	admin   = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	oracle  = common.HexToAddress("0x0000000000000000000000000000000000000a02")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	weth    = common.HexToAddress("0x00000000000000000000000000000000000000e7")
	custody = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	ghs     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	engine *vault.Engine
	ledger *bank.Ledger
	hub    *Hub
	halt   *nativecommon.ModuleSwitch
}

func newTestServer(t *testing.T, limit RateLimit) *testServer {
	t.Helper()
	roles := vault.NewRoleRegistry()
	roles.Grant(vault.RoleAdmin, admin)
	roles.Grant(vault.RoleOracle, oracle)

	params := vault.DefaultParams(6)
	params.Limits.MaxMintPerTx = uint256.NewInt(20_000_000_000)
	params.Limits.MaxMintPerUserPerDay = uint256.NewInt(50_000_000_000)

	ledger := bank.NewLedger(custody, ghs)
	engine, err := vault.NewEngine(vault.NewMemState(), params, roles, ledger, ledger)
	require.NoError(t, err)

	events, err := journal.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })
	hub := NewHub(nil)
	halt := nativecommon.NewModuleSwitch()
	engine.SetPauses(halt)
	engine.SetEventSink(vault.MultiSink{events, hub})

	require.NoError(t, engine.AddCollateral(admin, vault.CollateralParams{
		Asset:               weth,
		Symbol:              "WETH",
		Price:               uint256.NewInt(25_875_000_000),
		MaxLTVBps:           7_000,
		LiquidationBonusBps: 500,
		Decimals:            18,
	}))

	s, err := New(Config{
		Engine:    engine,
		Access:    roles,
		Events:    events,
		Hub:       hub,
		Faucet:    ledger,
		Halt:      halt,
		Auth:      AuthConfig{HMACSecret: testSecret, Issuer: "vaultd-test"},
		RateLimit: limit,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, engine: engine, ledger: ledger, hub: hub, halt: halt}
}

func (ts *testServer) token(subject common.Address) string {
	tok, err := IssueToken(testSecret, subject, "vaultd-test", time.Hour)
	require.NoError(ts.t, err)
	return tok
}

func (ts *testServer) do(method, path string, as common.Address, body any) (*http.Response, []byte) {
	ts.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&payload).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &payload)
	require.NoError(ts.t, err)
	if as != (common.Address{}) {
		req.Header.Set("Authorization", "Bearer "+ts.token(as))
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(ts.t, err)
	return resp, out.Bytes()
}

func decodeError(t *testing.T, raw []byte) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestHealthzIsPublicAndAPIRequiresToken(t *testing.T) {
	ts := newTestServer(t, RateLimit{})

	resp, _ := ts.do(http.MethodGet, "/healthz", common.Address{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, raw := ts.do(http.MethodGet, "/v1/status", common.Address{}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Unauthenticated", decodeError(t, raw).Error)

	forged, err := IssueToken("another-secret-another-secret-xx", alice, "vaultd-test", time.Hour)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/v1/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	res, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestDepositAndMintOverHTTP(t *testing.T) {
	ts := newTestServer(t, RateLimit{})

	resp, raw := ts.do(http.MethodPost, "/v1/admin/credit", admin, creditRequest{
		Asset: weth.Hex(), Account: alice.Hex(), Amount: "1000000000000000000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	resp, raw = ts.do(http.MethodPost, "/v1/vault/deposit-and-mint", alice, depositAndMintRequest{
		Asset: weth.Hex(), Collateral: "1000000000000000000", Amount: "15000000000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var pos positionJSON
	require.NoError(t, json.Unmarshal(raw, &pos))
	require.Equal(t, "15000000000", pos.Debt)
	require.Equal(t, "1000000000000000000", pos.Collateral)
	require.Equal(t, uint64(17_250), pos.RatioBps)
	require.False(t, pos.Liquidatable)

	require.Equal(t, "15000000000", ts.ledger.Balance(ghs, alice).Dec())

	resp, raw = ts.do(http.MethodGet, "/v1/users/"+alice.Hex()+"/mint-status", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status mintStatusJSON
	require.NoError(t, json.Unmarshal(raw, &status))
	require.Equal(t, uint64(1), status.DailyMintCount)
	require.Equal(t, "15000000000", status.DailyMinted)

	resp, raw = ts.do(http.MethodGet, "/v1/status", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var global globalStatusJSON
	require.NoError(t, json.Unmarshal(raw, &global))
	require.Equal(t, "15000000000", global.TotalMinted)

	resp, raw = ts.do(http.MethodGet, "/v1/events?type="+vault.TypeMinted, alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []vault.Event
	require.NoError(t, json.Unmarshal(raw, &events))
	require.Len(t, events, 1)
	require.Equal(t, vault.TypeMinted, events[0].Type)
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	ts := newTestServer(t, RateLimit{})

	resp, raw := ts.do(http.MethodPost, "/v1/admin/pause", alice, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "Unauthorized", decodeError(t, raw).Error)

	resp, raw = ts.do(http.MethodPost, "/v1/admin/credit", alice, creditRequest{
		Asset: weth.Hex(), Account: alice.Hex(), Amount: "1",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode, string(raw))

	resp, raw = ts.do(http.MethodPost, "/v1/vault/deposit", alice, amountRequest{Asset: "not-an-address", Amount: "1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "InvalidInput", decodeError(t, raw).Error)

	resp, raw = ts.do(http.MethodPost, "/v1/vault/deposit", alice, amountRequest{Asset: weth.Hex(), Amount: "0"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "InvalidAmount", decodeError(t, raw).Error)

	unknown := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	resp, raw = ts.do(http.MethodGet, "/v1/collateral/"+unknown.Hex(), alice, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "UnknownCollateral", decodeError(t, raw).Error)

	resp, _ = ts.do(http.MethodPost, "/v1/admin/pause", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, raw = ts.do(http.MethodPost, "/v1/vault/deposit", alice, amountRequest{Asset: weth.Hex(), Amount: "1"})
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	require.Equal(t, "EnforcedPause", decodeError(t, raw).Error)
}

func TestHaltSwitchBlocksUserOperations(t *testing.T) {
	ts := newTestServer(t, RateLimit{})

	resp, _ := ts.do(http.MethodPost, "/v1/admin/halt", alice, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw := ts.do(http.MethodPost, "/v1/admin/halt", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var halted haltResponse
	require.NoError(t, json.Unmarshal(raw, &halted))
	require.Equal(t, []string{vault.ModuleName}, halted.Halted)

	resp, raw = ts.do(http.MethodPost, "/v1/vault/deposit", alice, amountRequest{Asset: weth.Hex(), Amount: "1"})
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	require.Equal(t, "EnforcedPause", decodeError(t, raw).Error)

	resp, _ = ts.do(http.MethodPost, "/v1/admin/resume", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, ts.halt.IsPaused(vault.ModuleName))
}

func TestUnknownFieldsAreRejected(t *testing.T) {
	ts := newTestServer(t, RateLimit{})
	resp, raw := ts.do(http.MethodPost, "/v1/admin/price", oracle, map[string]string{
		"asset": weth.Hex(), "price": "1", "extra": "x",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "InvalidInput", decodeError(t, raw).Error)
}

func TestStatusForHidesInternalErrors(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("wrap: %w", vault.ErrCooldownNotMet):      http.StatusTooManyRequests,
		fmt.Errorf("wrap: %w", vault.ErrExceedsGlobalLimit):  http.StatusTooManyRequests,
		fmt.Errorf("wrap: %w", vault.ErrPriceStale):          http.StatusPreconditionRequired,
		fmt.Errorf("wrap: %w", vault.ErrNotLiquidatable):     http.StatusConflict,
		fmt.Errorf("wrap: %w", vault.ErrCollateralExists):    http.StatusConflict,
		fmt.Errorf("wrap: %w", vault.ErrExceedsMaxMintPerTx): http.StatusBadRequest,
		errors.New("disk on fire"):                           http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, statusFor(err), err.Error())
	}

	rec := httptest.NewRecorder()
	writeEngineError(rec, errors.New("disk on fire"))
	body := decodeError(t, rec.Body.Bytes())
	require.Equal(t, "internal", body.Error)
	require.Equal(t, "internal error", body.Message)
}

func TestRateLimiterThrottlesPerCaller(t *testing.T) {
	ts := newTestServer(t, RateLimit{RequestsPerMinute: 1, Burst: 2})

	for i := 0; i < 2; i++ {
		resp, _ := ts.do(http.MethodGet, "/v1/collateral", alice, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, raw := ts.do(http.MethodGet, "/v1/collateral", alice, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "RateLimited", decodeError(t, raw).Error)
	require.Equal(t, "1", resp.Header.Get("Retry-After"))

	// Buckets are per caller.
	resp, _ = ts.do(http.MethodGet, "/v1/collateral", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventStreamDeliversFilteredEvents(t *testing.T) {
	ts := newTestServer(t, RateLimit{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") +
		"/v1/events/stream?type=" + vault.TypePaused + "&access_token=" + ts.token(alice)
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.Eventually(t, func() bool { return ts.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ts.engine.UpdatePrice(oracle, weth, uint256.NewInt(25_000_000_000)))
	require.NoError(t, ts.engine.Pause(admin))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev vault.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, vault.TypePaused, ev.Type)
}
