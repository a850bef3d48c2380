package dashboard

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fagongzi/util/json"
	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/infinivision/shardledger/pkg/storage"
	"github.com/infinivision/shardledger/pkg/storage/mem"
	"github.com/infinivision/shardledger/pkg/topology"
	"github.com/stretchr/testify/assert"
)

type testResult struct {
	Code  int         `json:"code"`
	Value interface{} `json:"value"`
}

func (r *testResult) decode(value interface{}) {
	json.MustUnmarshal(value, json.MustMarshal(r.Value))
}

func newTestDashboard(t *testing.T) (*Dashboard, storage.Storage, *meta.ShardRegistry) {
	store := storage.NewKVStorage(mem.NewKV())
	registry, err := topology.BuildGenesisTopology(2, []meta.PublicKey{{1}, {2}})
	assert.Nil(t, err, "check genesis failed")
	assert.Nil(t, store.PutRegistry(registry), "check put registry failed")

	return NewDashboard(Cfg{}, NewStorageAPI(store)), store, registry
}

func doRequest(s *Dashboard, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	return rec
}

func TestTopology(t *testing.T) {
	s, _, registry := newTestDashboard(t)

	rec := doRequest(s, http.MethodGet, "/v1/topology", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "check topology failed")

	result := testResult{}
	json.MustUnmarshal(&result, rec.Body.Bytes())
	value := &meta.ShardRegistry{}
	result.decode(value)
	assert.Equal(t, registry.Root(), value.Root(), "check topology root failed")

	rec = doRequest(s, http.MethodGet, "/v1/topology/0", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "check registry failed")

	rec = doRequest(s, http.MethodGet, "/v1/topology/7", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "check missing registry failed")

	rec = doRequest(s, http.MethodGet, "/v1/topology/pending", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "check pending failed")
}

func TestTransactions(t *testing.T) {
	s, store, _ := newTestDashboard(t)
	tx := meta.NewCrossShardTransaction([]byte("transfer"), 1, 5, 0, 1)
	snapshot := meta.NewSnapshot(tx, meta.PreparingPhase, meta.NewLifecycle(), 100, 150, 0)
	snapshot.Locks = meta.NewLockedKeys(map[meta.ShardID][][]byte{0: {{1}}, 1: {{0x90}}})
	assert.Nil(t, store.PutSnapshot(&snapshot), "check put snapshot failed")

	rec := doRequest(s, http.MethodGet, "/v1/transactions/"+tx.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code, "check transaction failed")

	rec = doRequest(s, http.MethodGet, "/v1/transactions/zz", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "check bad id failed")

	rec = doRequest(s, http.MethodGet, "/v1/transactions/"+meta.NewTransactionID([]byte("x"), 1).String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "check missing transaction failed")

	rec = doRequest(s, http.MethodGet, "/v1/transactions?shard=1", nil)
	result := testResult{}
	json.MustUnmarshal(&result, rec.Body.Bytes())
	var value []meta.CoordinatorStateSnapshot
	result.decode(&value)
	assert.Equal(t, 1, len(value), "check transactions failed")

	rec = doRequest(s, http.MethodGet, "/v1/transactions?shard=3", nil)
	result = testResult{}
	json.MustUnmarshal(&result, rec.Body.Bytes())
	value = nil
	result.decode(&value)
	assert.Equal(t, 0, len(value), "check shard filter failed")

	held := s.api.Locks()
	assert.Equal(t, 2, len(held), "check derived locks failed")
	assert.Equal(t, 2, s.api.Stats().HeldLocks, "check stats failed")
}

func TestVerifyBlock(t *testing.T) {
	s, _, registry := newTestDashboard(t)

	body := json.MustMarshal(&meta.BlockShardFields{
		EpochID:           0,
		ShardRegistryRoot: registry.RootHex(),
		ShardID:           1,
	})
	rec := doRequest(s, http.MethodPost, "/v1/blocks/verify", body)
	result := testResult{}
	json.MustUnmarshal(&result, rec.Body.Bytes())
	assert.Equal(t, succeed, result.Code, "check verify block failed")

	body = json.MustMarshal(&meta.BlockShardFields{
		EpochID:           1,
		ShardRegistryRoot: registry.RootHex(),
		ShardID:           1,
	})
	rec = doRequest(s, http.MethodPost, "/v1/blocks/verify", body)
	result = testResult{}
	json.MustUnmarshal(&result, rec.Body.Bytes())
	assert.Equal(t, failed, result.Code, "check stale block failed")
}

func TestStats(t *testing.T) {
	s, _, registry := newTestDashboard(t)

	rec := doRequest(s, http.MethodGet, "/v1/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "check stats failed")

	result := testResult{}
	json.MustUnmarshal(&result, rec.Body.Bytes())
	value := statsView{}
	result.decode(&value)
	assert.Equal(t, 2, value.Shards, "check stats shards failed")
	assert.Equal(t, registry.RootHex(), value.RegistryRoot, "check stats root failed")

	rec = doRequest(s, http.MethodPost, "/v1/blocks/verify", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "check empty body failed")
}
