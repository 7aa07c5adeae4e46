package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/core/types"
)

var battleID = uuid.MustParse("33333333-3333-3333-3333-333333333333")

type stubBackend struct {
	snapshot *types.Snapshot
	active   int64
	ended    bool
}

func (b *stubBackend) GetBattle(_ context.Context, id uuid.UUID) (*types.Snapshot, error) {
	if b.snapshot == nil || b.snapshot.BattleID != id {
		return nil, fmt.Errorf("battle %s: %w", id, types.ErrBattleNotFound)
	}
	return b.snapshot, nil
}

func (b *stubBackend) GetActiveBattleCount(context.Context) (int64, error) {
	return b.active, nil
}

func (b *stubBackend) WorkerStats() map[string]interface{} {
	return map[string]interface{}{"claimed": uint64(5)}
}

func (b *stubBackend) ForceEndBattle(_ context.Context, id uuid.UUID, _ types.EndReason) (bool, error) {
	if b.snapshot == nil || b.snapshot.BattleID != id {
		return false, fmt.Errorf("battle %s: %w", id, types.ErrBattleNotFound)
	}
	b.ended = true
	return true, nil
}

func call(t *testing.T, s *Server, method string, params interface{}) RPCResponse {
	t.Helper()
	rawParams, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(RPCRequest{JSONRPC: "2.0", Method: method, Params: rawParams, ID: 1})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleRPC(rec, req)

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func newTestServer(backend Backend) *Server {
	return NewServer(backend, zap.NewNop())
}

func TestGetBattle(t *testing.T) {
	backend := &stubBackend{snapshot: &types.Snapshot{
		BattleID: battleID, Phase: types.PhaseTurnOpen, TurnIndex: 2,
	}}
	s := newTestServer(backend)

	resp := call(t, s, "kb_getBattle", []string{battleID.String()})
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, battleID.String(), result["battleId"])
	require.EqualValues(t, 2, result["turnIndex"])
}

func TestGetBattleUnknownIsNullResult(t *testing.T) {
	s := newTestServer(&stubBackend{})
	resp := call(t, s, "kb_getBattle", []string{battleID.String()})
	require.Nil(t, resp.Error)
	require.Nil(t, resp.Result)
}

func TestGetBattleBadID(t *testing.T) {
	s := newTestServer(&stubBackend{})
	resp := call(t, s, "kb_getBattle", []string{"not-a-uuid"})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestGetActiveBattleCount(t *testing.T) {
	s := newTestServer(&stubBackend{active: 17})
	resp := call(t, s, "kb_getActiveBattleCount", []string{})
	require.Nil(t, resp.Error)
	require.EqualValues(t, 17, resp.Result)
}

func TestWorkerStats(t *testing.T) {
	s := newTestServer(&stubBackend{})
	resp := call(t, s, "kb_workerStats", []string{})
	require.Nil(t, resp.Error)
	stats, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, 5, stats["claimed"])
}

func TestForceEndBattle(t *testing.T) {
	backend := &stubBackend{snapshot: &types.Snapshot{BattleID: battleID}}
	s := newTestServer(backend)

	resp := call(t, s, "kb_forceEndBattle", []string{battleID.String(), "AdminForced"})
	require.Nil(t, resp.Error)
	require.True(t, backend.ended)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, true, result["ended"])
}

func TestMethodNotFound(t *testing.T) {
	s := newTestServer(&stubBackend{})
	resp := call(t, s, "kb_unknown", []string{})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestRejectsWrongVersion(t *testing.T) {
	s := newTestServer(&stubBackend{})
	body := []byte(`{"jsonrpc":"1.0","method":"kb_workerStats","id":1}`)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleRPC(rec, req)

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
}
