package devcollector_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/engagekit/pkg/collector"
	"github.com/dmitrymomot/engagekit/pkg/devcollector"
	"github.com/dmitrymomot/engagekit/pkg/logger"
	"github.com/dmitrymomot/engagekit/pkg/queue"
)

func setup(t *testing.T, opts ...devcollector.Option) (*devcollector.Sink, *httptest.Server, *collector.Client) {
	t.Helper()

	sink := devcollector.New(append([]devcollector.Option{devcollector.WithLogger(logger.Discard())}, opts...)...)
	srv := httptest.NewServer(sink.Router())
	t.Cleanup(srv.Close)

	client, err := collector.New(srv.URL,
		collector.WithLogger(logger.Discard()),
		collector.WithCredentials(collector.Credentials{AppID: "app", AppSecret: "secret", DeviceID: "dev-1"}),
	)
	require.NoError(t, err)
	return sink, srv, client
}

func TestSink_Deliveries(t *testing.T) {
	t.Parallel()

	sink, _, client := setup(t)
	ctx := context.Background()

	require.NoError(t, client.Deliver(ctx, queue.TaskTypeEvent, json.RawMessage(`{"name":"a"}`), "k1"))
	require.NoError(t, client.Deliver(ctx, queue.TaskTypeSessionConcluded, json.RawMessage(`{"duration":5}`), "k2"))

	got := sink.Received()
	require.Len(t, got, 2)
	assert.Equal(t, collector.PathEvent, got[0].Path)
	assert.JSONEq(t, `{"name":"a"}`, string(got[0].Body))
	assert.Equal(t, "k1", got[0].IdempotencyKey)
	assert.NotEmpty(t, got[0].Token)
	assert.Equal(t, collector.PathConclude, got[1].Path)

	assert.Len(t, sink.ReceivedOn(collector.PathEvent), 1)
	assert.Empty(t, sink.ReceivedOn(collector.PathKeepAlive))
	assert.Equal(t, 1, sink.AuthCalls())
}

func TestSink_Duplicates(t *testing.T) {
	t.Parallel()

	sink, _, client := setup(t)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, client.Deliver(ctx, queue.TaskTypeEvent, json.RawMessage(`{}`), "same"))
	}

	assert.Len(t, sink.Received(), 1)
	assert.Equal(t, 2, sink.Duplicates())
}

func TestSink_ScriptedFailures(t *testing.T) {
	t.Parallel()

	sink, _, client := setup(t)
	ctx := context.Background()
	sink.Fail(collector.PathEvent, http.StatusInternalServerError, http.StatusBadRequest)

	err := client.Deliver(ctx, queue.TaskTypeEvent, json.RawMessage(`{}`), "")
	assert.Equal(t, http.StatusInternalServerError, collector.StatusCode(err))

	err = client.Deliver(ctx, queue.TaskTypeEvent, json.RawMessage(`{}`), "")
	assert.True(t, collector.IsPermanent(err))

	assert.Empty(t, sink.Pending())
	require.NoError(t, client.Deliver(ctx, queue.TaskTypeEvent, json.RawMessage(`{}`), ""))
	assert.Len(t, sink.Received(), 1)
}

func TestSink_TokenCheck(t *testing.T) {
	t.Parallel()

	t.Run("revoked token is re-acquired", func(t *testing.T) {
		t.Parallel()

		sink, _, client := setup(t)
		ctx := context.Background()

		require.NoError(t, client.Deliver(ctx, queue.TaskTypeEvent, json.RawMessage(`{}`), ""))
		sink.RevokeTokens()

		err := client.Deliver(ctx, queue.TaskTypeEvent, json.RawMessage(`{}`), "")
		assert.Equal(t, http.StatusUnauthorized, collector.StatusCode(err))

		require.NoError(t, client.Deliver(ctx, queue.TaskTypeEvent, json.RawMessage(`{}`), ""))
		assert.Equal(t, 2, sink.AuthCalls())
	})

	t.Run("unknown token rejected", func(t *testing.T) {
		t.Parallel()

		_, srv, _ := setup(t)
		req, err := http.NewRequest(http.MethodPost, srv.URL+collector.PathEvent, bytes.NewReader([]byte(`{}`)))
		require.NoError(t, err)
		req.Header.Set(collector.HeaderSDKToken, "forged")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("check disabled", func(t *testing.T) {
		t.Parallel()

		sink, srv, _ := setup(t, devcollector.WithoutTokenCheck())
		resp, err := http.Post(srv.URL+collector.PathKeepAlive, "application/json", bytes.NewReader([]byte(`{"sessionID":"s"}`)))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, sink.ReceivedOn(collector.PathKeepAlive), 1)
	})
}

func TestSink_DebugRoutes(t *testing.T) {
	t.Parallel()

	sink, srv, client := setup(t)
	ctx := context.Background()

	resp, err := http.Post(srv.URL+"/debug/fail", "application/json",
		bytes.NewReader([]byte(`{"path":"/v1/user/update","codes":[503]}`)))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, map[string][]int{collector.PathProfile: {503}}, sink.Pending())

	err = client.Deliver(ctx, queue.TaskTypeProfile, json.RawMessage(`{}`), "")
	assert.Equal(t, http.StatusServiceUnavailable, collector.StatusCode(err))
	require.NoError(t, client.Deliver(ctx, queue.TaskTypeProfile, json.RawMessage(`{"a":1}`), ""))

	resp, err = http.Get(srv.URL + "/debug/received?path=" + collector.PathProfile)
	require.NoError(t, err)
	var listed []devcollector.Received
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.NoError(t, resp.Body.Close())
	require.Len(t, listed, 1)
	assert.JSONEq(t, `{"a":1}`, string(listed[0].Body))

	resp, err = http.Post(srv.URL+"/debug/reset", "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Empty(t, sink.Received())

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSink_RejectsBadPayloads(t *testing.T) {
	t.Parallel()

	_, srv, _ := setup(t, devcollector.WithoutTokenCheck())

	resp, err := http.Post(srv.URL+collector.PathEvent, "application/json", bytes.NewReader([]byte(`{nope`)))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+collector.PathAuth, "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
