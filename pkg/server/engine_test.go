package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluffypony/universe/pkg/audit"
	"github.com/fluffypony/universe/pkg/config"
	mcperrors "github.com/fluffypony/universe/pkg/errors"
	"github.com/fluffypony/universe/pkg/host"
	"github.com/fluffypony/universe/pkg/logging"
	"github.com/fluffypony/universe/pkg/protocol"
	"github.com/fluffypony/universe/pkg/registry"
	"github.com/fluffypony/universe/pkg/transport"
)

const destination = "f4Fq7n3WTk9E6uK2Qb8tMmRz5XyVc1DhJpNs3aGwBeHoXyZ"

var testCaller = transport.Caller{ClientID: "client-1", RemoteAddr: "127.0.0.1:50001"}

type fixture struct {
	engine *Engine
	sim    *host.Simulator
	store  *config.Store
	sink   *audit.MemorySink
	log    *audit.Log
}

func enabledConfig() config.SecurityConfig {
	cfg := config.DefaultSecurityConfig()
	cfg.Enabled = true
	return cfg
}

func newFixture(t testing.TB, cfg config.SecurityConfig, mutate ...func(*host.Collaborators)) *fixture {
	t.Helper()
	sim := host.NewSimulator()
	collab := sim.Collaborators()
	for _, fn := range mutate {
		fn(&collab)
	}
	reg, err := registry.New(collab)
	require.NoError(t, err)

	sink := audit.NewMemorySink()
	log := audit.New(sink, audit.WithLogger(logging.Nop()))
	store := config.NewStore(cfg)
	return &fixture{
		engine: NewEngine(reg, store, log, WithEngineLogger(logging.Nop())),
		sim:    sim,
		store:  store,
		sink:   sink,
		log:    log,
	}
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

func (f *fixture) call(t *testing.T, id int, method string, params interface{}) rpcResponse {
	t.Helper()
	req, err := protocol.NewRequest(id, method, params)
	require.NoError(t, err)
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	return f.send(t, raw)
}

func (f *fixture) send(t *testing.T, raw []byte) rpcResponse {
	t.Helper()
	out := f.engine.Handle(context.Background(), testCaller, raw)
	require.NotNil(t, out)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

func (f *fixture) callTool(t *testing.T, name string, args map[string]interface{}) rpcResponse {
	t.Helper()
	return f.call(t, 1, protocol.MethodCallTool, protocol.CallToolParams{Name: name, Arguments: args})
}

// toolText returns the JSON document carried in a tool result
func toolText(t *testing.T, resp rpcResponse) map[string]interface{} {
	t.Helper()
	require.Nil(t, resp.Error)
	var result protocol.CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &doc))
	return doc
}

func (f *fixture) records(t *testing.T) []audit.Record {
	t.Helper()
	recs := f.sink.Records()
	require.NoError(t, audit.Verify(recs))
	return recs
}

func TestInitializeAndPing(t *testing.T) {
	f := newFixture(t, config.DefaultSecurityConfig())

	resp := f.call(t, 1, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.Implementation{Name: "agent", Version: "0.1"},
	})
	require.Nil(t, resp.Error)
	var init protocol.InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &init))
	assert.Equal(t, protocol.ProtocolVersion, init.ProtocolVersion)
	assert.Equal(t, protocol.ServerName, init.ServerInfo.Name)
	assert.Equal(t, protocol.ServerVersion, init.ServerInfo.Version)
	assert.JSONEq(t, "1", string(resp.ID))

	// ping answers even while disabled
	resp = f.call(t, 2, protocol.MethodPing, nil)
	require.Nil(t, resp.Error)

	recs := f.records(t)
	require.Len(t, recs, 2)
	assert.Equal(t, "initialize", recs[0].Operation)
	assert.Contains(t, recs[0].Details, "agent")
	assert.Equal(t, audit.OutcomeSuccess, recs[1].Outcome)
}

// a disabled server refuses before any collaborator is touched
func TestDisabledServerRefusesTools(t *testing.T) {
	f := newFixture(t, config.DefaultSecurityConfig())

	resp := f.callTool(t, "start_cpu_mining", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcperrors.CodeForbidden, resp.Error.Code)
	assert.Equal(t, mcperrors.ReasonServerDisabled, resp.Error.Message)
	assert.Zero(t, f.sim.TotalCalls())

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, audit.OutcomeFailure, recs[0].Outcome)
	assert.Equal(t, mcperrors.ReasonServerDisabled, recs[0].Reason)
	assert.Equal(t, string(StageAuthorized), recs[0].Stage)
	assert.Equal(t, "tools/call:start_cpu_mining", recs[0].Operation)
}

func TestDisabledServerRefusesListings(t *testing.T) {
	f := newFixture(t, config.DefaultSecurityConfig())

	for _, method := range []string{
		protocol.MethodListResources,
		protocol.MethodListTools,
		protocol.MethodListPrompts,
	} {
		resp := f.call(t, 1, method, nil)
		require.NotNil(t, resp.Error, method)
		assert.Equal(t, mcperrors.ReasonServerDisabled, resp.Error.Message)
	}

	resp := f.call(t, 1, protocol.MethodReadResource, protocol.ReadResourceParams{URI: "tari://wallet_balance"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcperrors.ReasonServerDisabled, resp.Error.Message)
	assert.Zero(t, f.sim.TotalCalls())
}

func TestSendWithoutCapability(t *testing.T) {
	f := newFixture(t, enabledConfig())

	resp := f.callTool(t, "send_tari", map[string]interface{}{
		"amount":      "100",
		"destination": destination,
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcperrors.CodeForbidden, resp.Error.Code)
	assert.Equal(t, mcperrors.ReasonCapabilityNotGranted, resp.Error.Message)
	assert.Zero(t, f.sim.Calls(host.OpWalletSend))
	assert.Zero(t, f.sim.Calls(host.OpWalletValidate))

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, audit.OutcomeFailure, recs[0].Outcome)
	assert.Equal(t, mcperrors.ReasonCapabilityNotGranted, recs[0].Reason)
	assert.Equal(t, "100", recs[0].Arguments["amount"])
}

func TestSendWithCapability(t *testing.T) {
	cfg := enabledConfig()
	cfg.AllowWalletSend = true
	f := newFixture(t, cfg)

	doc := toolText(t, f.callTool(t, "send_tari", map[string]interface{}{
		"amount":      "1.5",
		"destination": destination,
		"payment_id":  "invoice-7",
	}))
	assert.Equal(t, true, doc["success"])
	assert.Equal(t, "invoice-7", doc["payment_id"])

	sent := f.sim.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(1_500_000), uint64(sent[0].Amount))

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Succeeded())
}

func TestReadMiningStatus(t *testing.T) {
	f := newFixture(t, enabledConfig())
	f.sim.SetMinerStatus("cpu", host.MinerStatus{IsMining: true, HashRate: 2150.5, EstimatedEarnings: 420, IsConnected: true})

	resp := f.call(t, 7, protocol.MethodReadResource, protocol.ReadResourceParams{URI: "tari://mining_status"})
	require.Nil(t, resp.Error)

	var result protocol.ReadResourceResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "tari://mining_status", result.Contents[0].URI)
	assert.Equal(t, protocol.MimeTypeJSON, result.Contents[0].MimeType)

	var doc registry.MiningStatusDoc
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &doc))
	assert.Equal(t, registry.MinerDoc{IsMining: true, HashRate: 2150.5, EstimatedEarnings: 420, IsConnected: true}, doc.CPUMining)
	assert.True(t, doc.Overall.AnyMining)

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, audit.OutcomeSuccess, recs[0].Outcome)
	assert.Equal(t, "resources/read:mining_status", recs[0].Operation)
	assert.Equal(t, string(StageCompleted), recs[0].Stage)
}

// unknown names are answered before the gate runs
func TestUnknownTool(t *testing.T) {
	// disabled, so a gate evaluation would answer "server disabled"
	f := newFixture(t, config.DefaultSecurityConfig())

	resp := f.callTool(t, "foo", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcperrors.CodeResourceNotFound, resp.Error.Code)
	assert.Equal(t, "unknown tool", resp.Error.Message)

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, audit.OutcomeFailure, recs[0].Outcome)
	assert.Equal(t, "unknown tool", recs[0].Reason)
	assert.Equal(t, string(StageResolved), recs[0].Stage)
}

func TestUnknownResource(t *testing.T) {
	f := newFixture(t, enabledConfig())

	for _, uri := range []string{"tari://nope", "http://wallet_balance", ""} {
		resp := f.call(t, 1, protocol.MethodReadResource, protocol.ReadResourceParams{URI: uri})
		require.NotNil(t, resp.Error, uri)
		assert.Equal(t, "unknown resource", resp.Error.Message, uri)
	}
}

func TestCustomUsageOutOfRange(t *testing.T) {
	f := newFixture(t, enabledConfig())

	resp := f.callTool(t, "set_mining_mode", map[string]interface{}{
		"mode":             "Custom",
		"custom_cpu_usage": 150,
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcperrors.CodeInvalidParams, resp.Error.Code)

	var data mcperrors.ValidationErrorData
	require.NoError(t, json.Unmarshal(resp.Error.Data, &data))
	require.NotEmpty(t, data.Fields)
	assert.Equal(t, "custom_cpu_usage", data.Fields[0].Field)

	assert.Zero(t, f.sim.Calls(host.OpSettingsMode))
	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, string(StageValidated), recs[0].Stage)
}

func TestMiningLifecycle(t *testing.T) {
	f := newFixture(t, enabledConfig())

	doc := toolText(t, f.callTool(t, "start_cpu_mining", nil))
	assert.Equal(t, true, doc["success"])
	assert.Equal(t, 1, f.sim.Calls(host.OpCPUStart))

	doc = toolText(t, f.callTool(t, "stop_cpu_mining", nil))
	assert.Equal(t, true, doc["success"])

	doc = toolText(t, f.callTool(t, "set_mining_mode", map[string]interface{}{
		"mode":             "custom",
		"custom_cpu_usage": 75,
	}))
	assert.Equal(t, "Custom", doc["mining_mode"])
	assert.Len(t, f.records(t), 3)
}

func TestValidateAddressIsIdempotent(t *testing.T) {
	f := newFixture(t, enabledConfig())
	args := map[string]interface{}{"address": destination}

	first := toolText(t, f.callTool(t, "validate_address", args))
	second := toolText(t, f.callTool(t, "validate_address", args))
	assert.Equal(t, first, second)
	assert.Equal(t, true, first["valid"])
}

func TestCollaboratorFailure(t *testing.T) {
	f := newFixture(t, enabledConfig())
	f.sim.Fail(host.OpCPUStatus, fmt.Errorf("miner process unreachable"))

	resp := f.callTool(t, "start_cpu_mining", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcperrors.CodeOperationFailed, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "miner process unreachable")

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, string(StageInvoked), recs[0].Stage)
}

type panickingWallet struct{ host.Wallet }

func (panickingWallet) Balance(context.Context) (*host.Balance, error) {
	panic("balance exploded")
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	f := newFixture(t, enabledConfig(), func(c *host.Collaborators) {
		c.Wallet = panickingWallet{c.Wallet}
	})

	resp := f.call(t, 1, protocol.MethodReadResource, protocol.ReadResourceParams{URI: "tari://wallet_balance"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcperrors.CodeHandlerPanic, resp.Error.Code)

	// the engine keeps serving
	resp = f.call(t, 2, protocol.MethodPing, nil)
	assert.Nil(t, resp.Error)
	assert.Len(t, f.records(t), 2)
}

func TestAuditLoggingDisabled(t *testing.T) {
	cfg := enabledConfig()
	cfg.AuditLogging = false
	f := newFixture(t, cfg)

	f.callTool(t, "get_mining_config", nil)
	f.callTool(t, "foo", nil)
	assert.Empty(t, f.sink.Records())

	// the next request sees the updated snapshot
	_, err := f.store.Update(func(c *config.SecurityConfig) { c.AuditLogging = true })
	require.NoError(t, err)
	f.callTool(t, "get_mining_config", nil)
	assert.Len(t, f.records(t), 1)
}

func TestMalformedMessages(t *testing.T) {
	f := newFixture(t, enabledConfig())

	tests := []struct {
		name string
		raw  string
		code int
	}{
		{"not json", `{"jsonrpc":`, mcperrors.CodeParseError},
		{"batch", `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, mcperrors.CodeInvalidRequest},
		{"trailing data", `{"jsonrpc":"2.0","id":1,"method":"ping"} trailing`, mcperrors.CodeInvalidRequest},
		{"two objects", `{"jsonrpc":"2.0","id":1,"method":"ping"}{"jsonrpc":"2.0","id":2,"method":"ping"}`, mcperrors.CodeInvalidRequest},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, mcperrors.CodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, mcperrors.CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"wallet/drain"}`, mcperrors.CodeMethodNotFound},
		{"bad params", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":[1]}`, mcperrors.CodeInvalidParams},
		{"missing tool name", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`, mcperrors.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.send(t, []byte(tt.raw))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}

	recs := f.records(t)
	require.Len(t, recs, len(tests))
	assert.Equal(t, "invalid", recs[0].Operation)
	for _, rec := range recs {
		assert.Equal(t, audit.OutcomeFailure, rec.Outcome)
	}
}

func TestParseErrorHasNullID(t *testing.T) {
	f := newFixture(t, enabledConfig())
	resp := f.send(t, []byte("garbage"))
	assert.Equal(t, "null", string(resp.ID))
}

func TestStringIDIsEchoed(t *testing.T) {
	f := newFixture(t, enabledConfig())
	resp := f.send(t, []byte(`{"jsonrpc":"2.0","id":"abc-1","method":"ping"}`))
	assert.JSONEq(t, `"abc-1"`, string(resp.ID))
}

func TestNotificationsGetNoResponse(t *testing.T) {
	f := newFixture(t, enabledConfig())

	out := f.engine.Handle(context.Background(), testCaller, []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	assert.Nil(t, out)

	out = f.engine.Handle(context.Background(), testCaller, []byte(`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"foo"}}`))
	assert.Nil(t, out)

	recs := f.records(t)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Succeeded())
	assert.False(t, recs[1].Succeeded())
}

func TestReject(t *testing.T) {
	f := newFixture(t, enabledConfig())

	out := f.engine.Reject(context.Background(), testCaller,
		[]byte(`{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"start_cpu_mining"}}`),
		mcperrors.RateLimited(60))
	require.NotNil(t, out)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcperrors.CodeRateLimited, resp.Error.Code)
	assert.JSONEq(t, "9", string(resp.ID))
	assert.Zero(t, f.sim.TotalCalls())

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, string(StageReceived), recs[0].Stage)
	assert.Equal(t, "rate limit exceeded", recs[0].Reason)
	assert.Equal(t, testCaller.RemoteAddr, recs[0].RemoteAddr)
}

func TestListings(t *testing.T) {
	f := newFixture(t, enabledConfig())

	var tools protocol.ListToolsResult
	resp := f.call(t, 1, protocol.MethodListTools, nil)
	require.Nil(t, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, &tools))
	assert.Len(t, tools.Tools, 11)

	var resources protocol.ListResourcesResult
	resp = f.call(t, 2, protocol.MethodListResources, nil)
	require.Nil(t, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, &resources))
	assert.Len(t, resources.Resources, 12)

	resp = f.call(t, 3, protocol.MethodGetPrompt, protocol.GetPromptParams{Name: "mining_optimization"})
	require.Nil(t, resp.Error)
	var prompt protocol.GetPromptResult
	require.NoError(t, json.Unmarshal(resp.Result, &prompt))
	require.Len(t, prompt.Messages, 1)

	resp = f.call(t, 4, protocol.MethodGetPrompt, protocol.GetPromptParams{Name: "nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unknown prompt", resp.Error.Message)
}

func TestConcurrentRequests(t *testing.T) {
	f := newFixture(t, enabledConfig())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"resources/read","params":{"uri":"tari://mining_config"}}`, i)
			out := f.engine.Handle(context.Background(), testCaller, []byte(req))
			assert.NotNil(t, out)
		}(i)
	}
	wg.Wait()

	recs := f.records(t)
	assert.Len(t, recs, 16)
}

func sendRequest(id int) []byte {
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":"send_tari","arguments":{"amount":"1","destination":"%s"}}}`, id, destination))
}

func waitEntered(t *testing.T, entered <-chan struct{}) {
	t.Helper()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never reached the collaborator")
	}
}

func TestConfigUpdateDoesNotAffectAuthorizedRequest(t *testing.T) {
	cfg := enabledConfig()
	cfg.AllowWalletSend = true
	f := newFixture(t, cfg)

	entered, release := f.sim.Hold(host.OpWalletSend)
	out := make(chan []byte, 1)
	go func() { out <- f.engine.Handle(context.Background(), testCaller, sendRequest(1)) }()
	waitEntered(t, entered)

	_, err := f.store.Update(func(c *config.SecurityConfig) { c.AllowWalletSend = false })
	require.NoError(t, err)
	release()

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(<-out, &resp))
	doc := toolText(t, resp)
	assert.Equal(t, true, doc["success"])
	assert.Len(t, f.sim.Sent(), 1)

	// the next request sees the revoked grant
	resp = f.send(t, sendRequest(2))
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcperrors.ReasonCapabilityNotGranted, resp.Error.Message)
	assert.Len(t, f.sim.Sent(), 1)

	recs := f.records(t)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Succeeded())
	assert.Equal(t, audit.OutcomeFailure, recs[1].Outcome)
}

func TestSlowHandlerDoesNotStallOtherConnections(t *testing.T) {
	f := newFixture(t, enabledConfig())

	entered, release := f.sim.Hold(host.OpCPUStart)
	defer release()
	out := make(chan []byte, 1)
	go func() {
		out <- f.engine.Handle(context.Background(), testCaller,
			[]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"start_cpu_mining"}}`))
	}()
	waitEntered(t, entered)

	other := transport.Caller{ClientID: "client-2", RemoteAddr: "127.0.0.1:50002"}
	answered := make(chan []byte, 1)
	go func() {
		answered <- f.engine.Handle(context.Background(), other,
			[]byte(`{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"tari://wallet_balance"}}`))
	}()

	select {
	case raw := <-answered:
		var resp rpcResponse
		require.NoError(t, json.Unmarshal(raw, &resp))
		assert.Nil(t, resp.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("request on another connection waited for the parked handler")
	}

	select {
	case <-out:
		t.Fatal("parked handler returned before release")
	default:
	}
	release()
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(<-out, &resp))
	assert.Nil(t, resp.Error)
}
