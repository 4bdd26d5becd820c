// Package bus implements the Redis-backed action bus: typed request/response
// with correlation, callbacks, and fire-and-forget sends. One queue per
// action_type; callback queues per originating service.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/nooble8/ragcore/pkg/actions"
	"github.com/nooble8/ragcore/pkg/apperr"
)

const (
	queuePrefix    = "actions:"
	callbackPrefix = "actions:callbacks:"
	replyPrefix    = "actions:replies:"

	// metaReplyQueue marks a synchronous send; the worker runtime pushes the
	// reply action to the named list instead of a callback queue.
	metaReplyQueue = "reply_queue"
)

// Queue returns the broker queue key for an action type.
func Queue(actionType string) string {
	return queuePrefix + actionType
}

// CallbackQueue returns the callback queue key for a service. Callback replies
// are actions posted here and dispatched by the owner's worker runtime.
func CallbackQueue(service string) string {
	return callbackPrefix + service
}

// ReplyQueue returns the correlation channel key for a synchronous send.
func ReplyQueue(actionID string) string {
	return replyPrefix + actionID
}

// Client is the producer/consumer facade over the broker connection.
type Client struct {
	rdb     redis.UniversalClient
	service string
}

// NewClient creates a bus client identified as the given service. The service
// name stamps origin_service on outbound actions and names the callback queue.
func NewClient(rdb redis.UniversalClient, service string) *Client {
	return &Client{rdb: rdb, service: service}
}

// Service returns the owning service name.
func (c *Client) Service() string {
	return c.service
}

// SendFireAndForget enqueues an action expecting no reply. A failed send is
// logged and swallowed — fire-and-forget failures must not fail the caller.
func (c *Client) SendFireAndForget(ctx context.Context, a *actions.Action) {
	if err := c.push(ctx, Queue(a.ActionType), a); err != nil {
		slog.Error("Failed to send fire-and-forget action",
			"action_id", a.ActionID,
			"action_type", a.ActionType,
			"tenant_id", a.TenantID,
			"error", err)
	}
}

// SendWithCallback enqueues an action whose recipient must eventually emit one
// action of type callbackEventName carrying the same task_id. The send error
// surfaces to the caller so it can fail the owning task.
func (c *Client) SendWithCallback(ctx context.Context, a *actions.Action, callbackEventName string) error {
	a.CallbackActionType = callbackEventName
	if err := c.push(ctx, Queue(a.ActionType), a); err != nil {
		return apperr.Wrap(apperr.KindServiceUnavailable, "broker send failed", err)
	}
	return nil
}

// SendAndWait enqueues an action and blocks on the correlation channel keyed
// by action_id until a reply arrives or the timeout elapses.
func (c *Client) SendAndWait(ctx context.Context, a *actions.Action, timeout time.Duration) (*actions.Action, error) {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	replyKey := ReplyQueue(a.ActionID)
	a.Metadata[metaReplyQueue] = replyKey

	if err := c.push(ctx, Queue(a.ActionType), a); err != nil {
		return nil, apperr.Wrap(apperr.KindServiceUnavailable, "broker send failed", err)
	}

	res, err := c.rdb.BRPop(ctx, timeout, replyKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperr.Newf(apperr.KindTimeout, "no reply for %s within %s", a.ActionType, timeout)
		}
		return nil, apperr.Wrap(apperr.KindServiceUnavailable, "broker receive failed", err)
	}

	var reply actions.Action
	if err := json.Unmarshal([]byte(res[1]), &reply); err != nil {
		return nil, fmt.Errorf("decoding reply action: %w", err)
	}
	return &reply, nil
}

// SendReply pushes a reply action to a synchronous sender's correlation
// channel. The channel expires so abandoned waits do not leak keys.
func (c *Client) SendReply(ctx context.Context, replyKey string, reply *actions.Action) error {
	if err := c.push(ctx, replyKey, reply); err != nil {
		return err
	}
	return c.rdb.Expire(ctx, replyKey, time.Minute).Err()
}

// SendCallback wraps a handler result in an action of the request's callback
// type, with the same task_id, and enqueues it on the origin service's
// callback queue.
func (c *Client) SendCallback(ctx context.Context, request *actions.Action, data map[string]any) error {
	reply := actions.New(request.CallbackActionType, request.TenantID, c.service)
	reply.SessionID = request.SessionID
	reply.TaskID = request.TaskID
	reply.AgentID = request.AgentID
	reply.UserID = request.UserID
	reply.Data = data
	return c.push(ctx, CallbackQueue(request.OriginService), reply)
}

// Pop blocks on the given queues until an action arrives or the timeout
// elapses. Returns (nil, nil) when the wait expired with nothing to do.
func (c *Client) Pop(ctx context.Context, timeout time.Duration, queues ...string) (*actions.Action, error) {
	res, err := c.rdb.BRPop(ctx, timeout, queues...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var a actions.Action
	if err := json.Unmarshal([]byte(res[1]), &a); err != nil {
		return nil, fmt.Errorf("decoding action from %s: %w", res[0], err)
	}
	return &a, nil
}

// ReplyQueueOf returns the correlation channel a synchronous sender attached
// to the action, or "" for ordinary sends.
func ReplyQueueOf(a *actions.Action) string {
	if a.Metadata == nil {
		return ""
	}
	s, _ := a.Metadata[metaReplyQueue].(string)
	return s
}

// push marshals and LPUSHes with exponential backoff (base 1s, cap 10s,
// 3 attempts) to ride out transient broker failures.
func (c *Client) push(ctx context.Context, key string, a *actions.Action) error {
	if a.OriginService == "" {
		a.OriginService = c.service
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling action %s: %w", a.ActionID, err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second

	return backoff.Retry(func() error {
		return c.rdb.LPush(ctx, key, payload).Err()
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx))
}
