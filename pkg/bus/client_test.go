package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nooble8/ragcore/pkg/actions"
	"github.com/nooble8/ragcore/pkg/apperr"
)

func newTestClient(t *testing.T) (*Client, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClient(rdb, "orchestrator"), rdb
}

func TestQueueNaming(t *testing.T) {
	assert.Equal(t, "actions:execution.chat.simple", Queue("execution.chat.simple"))
	assert.Equal(t, "actions:callbacks:orchestrator", CallbackQueue("orchestrator"))
	assert.Equal(t, "actions:replies:a-1", ReplyQueue("a-1"))
}

func TestSendFireAndForget(t *testing.T) {
	client, rdb := newTestClient(t)
	ctx := context.Background()

	a := actions.New(actions.TypeMessageCreate, "tenant-1", "")
	a.Data = map[string]any{"conversation_id": "conv-1"}
	client.SendFireAndForget(ctx, a)

	raw, err := rdb.RPop(ctx, Queue(actions.TypeMessageCreate)).Result()
	require.NoError(t, err)

	var queued actions.Action
	require.NoError(t, json.Unmarshal([]byte(raw), &queued))
	assert.Equal(t, a.ActionID, queued.ActionID)
	// Origin service is stamped from the client identity when unset.
	assert.Equal(t, "orchestrator", queued.OriginService)
}

func TestSendWithCallbackSetsCallbackType(t *testing.T) {
	client, rdb := newTestClient(t)
	ctx := context.Background()

	a := actions.New(actions.TypeChatAdvance, "tenant-1", "orchestrator")
	a.TaskID = "task-1"
	a.Data = map[string]any{"message": "hi"}
	require.NoError(t, client.SendWithCallback(ctx, a, actions.TypeChatResponse))

	raw, err := rdb.RPop(ctx, Queue(actions.TypeChatAdvance)).Result()
	require.NoError(t, err)

	var queued actions.Action
	require.NoError(t, json.Unmarshal([]byte(raw), &queued))
	assert.Equal(t, actions.TypeChatResponse, queued.CallbackActionType)
	assert.Equal(t, "task-1", queued.TaskID)
}

func TestSendAndWaitDeliversReply(t *testing.T) {
	client, rdb := newTestClient(t)
	ctx := context.Background()

	a := actions.New(actions.TypeIngestionStatus, "tenant-1", "orchestrator")
	a.Data = map[string]any{"task_id": "task-1"}

	// Recipient side: pop the request and answer on its reply channel.
	go func() {
		for {
			raw, err := rdb.RPop(ctx, Queue(actions.TypeIngestionStatus)).Result()
			if err != nil {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			var request actions.Action
			if json.Unmarshal([]byte(raw), &request) != nil {
				return
			}
			reply := actions.New(actions.TypeIngestionStatus+".reply", request.TenantID, "ingestion")
			reply.TaskID = request.TaskID
			reply.Data = map[string]any{"status": "completed"}
			_ = client.SendReply(ctx, ReplyQueueOf(&request), reply)
			return
		}
	}()

	reply, err := client.SendAndWait(ctx, a, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "completed", reply.DataString("status"))
}

func TestSendAndWaitTimeout(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	a := actions.New(actions.TypeChatSimple, "tenant-1", "orchestrator")
	a.TaskID = "task-1"
	a.Data = map[string]any{"message": "hi"}

	// Nobody consumes the queue: the reply never arrives.
	start := time.Now()
	_, err := client.SendAndWait(ctx, a, 150*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestSendCallbackRoutesToOriginService(t *testing.T) {
	client, rdb := newTestClient(t)
	ctx := context.Background()

	request := actions.New(actions.TypeEmbeddingBatch, "tenant-1", "ingestion")
	request.TaskID = "task-1"
	request.SessionID = "session-1"
	request.CallbackActionType = actions.TypeEmbeddingCallback

	require.NoError(t, client.SendCallback(ctx, request, map[string]any{"embeddings": []any{}}))

	raw, err := rdb.RPop(ctx, CallbackQueue("ingestion")).Result()
	require.NoError(t, err)

	var callback actions.Action
	require.NoError(t, json.Unmarshal([]byte(raw), &callback))
	assert.Equal(t, actions.TypeEmbeddingCallback, callback.ActionType)
	assert.Equal(t, "task-1", callback.TaskID)
	assert.Equal(t, "session-1", callback.SessionID)
}

func TestPopReturnsNilOnTimeout(t *testing.T) {
	client, _ := newTestClient(t)

	a, err := client.Pop(context.Background(), 50*time.Millisecond, Queue("execution.chat.simple"))
	require.NoError(t, err)
	assert.Nil(t, a)
}
