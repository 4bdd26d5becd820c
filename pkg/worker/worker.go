package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nooble8/ragcore/pkg/actions"
	"github.com/nooble8/ragcore/pkg/apperr"
	"github.com/nooble8/ragcore/pkg/bus"
	"github.com/nooble8/ragcore/pkg/config"
)

// Status represents the current state of a worker.
type Status string

// Worker status constants.
const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
)

// Worker is a single queue consumer. It blocks on the service's registered
// queues plus the service callback queue and processes one action at a time.
type Worker struct {
	id       string
	bus      *bus.Client
	registry *Registry
	cfg      config.WorkerConfig
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu               sync.RWMutex
	status           Status
	currentActionID  string
	actionsProcessed int
	lastActivity     time.Time
}

// NewWorker creates a queue worker.
func NewWorker(id string, b *bus.Client, registry *Registry, cfg config.WorkerConfig) *Worker {
	return &Worker{
		id:           id,
		bus:          b,
		registry:     registry,
		cfg:          cfg,
		stopCh:       make(chan struct{}),
		status:       StatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the consume loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// action. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the worker's health snapshot.
func (w *Worker) Health() Health {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Health{
		ID:               w.id,
		Status:           string(w.status),
		CurrentActionID:  w.currentActionID,
		ActionsProcessed: w.actionsProcessed,
		LastActivity:     w.lastActivity,
	}
}

// Health contains health information for a single worker.
type Health struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	CurrentActionID  string    `json:"current_action_id,omitempty"`
	ActionsProcessed int       `json:"actions_processed"`
	LastActivity     time.Time `json:"last_activity"`
}

// run is the main consume loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	queues := append(w.registry.Queues(), bus.CallbackQueue(w.bus.Service()))

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			a, err := w.bus.Pop(ctx, w.cfg.PollTimeout, queues...)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				log.Error("Error receiving action", "error", err)
				w.sleep(time.Second)
				continue
			}
			if a == nil {
				continue
			}
			w.process(ctx, a)
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// process validates, dispatches, and routes the result of one action.
// Handler errors never poison the queue: fire-and-forget failures are logged
// and dropped, request/response failures emit a failure callback.
func (w *Worker) process(ctx context.Context, a *actions.Action) {
	log := slog.With(
		"worker_id", w.id,
		"action_id", a.ActionID,
		"action_type", a.ActionType,
		"tenant_id", a.TenantID,
		"session_id", a.SessionID,
	)

	w.setStatus(StatusWorking, a.ActionID)
	defer w.setStatus(StatusIdle, "")

	reg, ok := w.registry.lookup(a.ActionType)
	if !ok {
		log.Warn("No handler registered for action type")
		w.replyError(ctx, a, apperr.Newf(apperr.KindValidation, "unsupported action type: %s", a.ActionType), log)
		return
	}

	if err := validate(a, reg); err != nil {
		log.Warn("Action validation failed", "error", err)
		w.replyError(ctx, a, err, log)
		return
	}

	result, err := reg.handler(ctx, a)
	if err != nil {
		log.Error("Handler failed",
			"error", err,
			"error_type", string(apperr.KindOf(err)))
		w.replyError(ctx, a, err, log)
		return
	}

	w.mu.Lock()
	w.actionsProcessed++
	w.mu.Unlock()

	w.reply(ctx, a, result, log)
}

// validate applies the per-type envelope checks.
func validate(a *actions.Action, reg registration) error {
	if reg.requireData && len(a.Data) == 0 {
		return apperr.New(apperr.KindValidation, "action data is empty")
	}
	if reg.requireTaskID && a.TaskID == "" {
		return apperr.New(apperr.KindValidation, "task_id is required")
	}
	return nil
}

// reply routes a successful handler result: to the synchronous sender's
// correlation channel when present, otherwise wrapped in the declared
// callback action type.
func (w *Worker) reply(ctx context.Context, a *actions.Action, result map[string]any, log *slog.Logger) {
	if replyKey := bus.ReplyQueueOf(a); replyKey != "" {
		reply := actions.New(replyActionType(a), a.TenantID, w.bus.Service())
		reply.SessionID = a.SessionID
		reply.TaskID = a.TaskID
		reply.Data = result
		if err := w.bus.SendReply(ctx, replyKey, reply); err != nil {
			log.Error("Failed to send synchronous reply", "error", err)
		}
		return
	}

	if a.CallbackActionType != "" && result != nil {
		if err := w.bus.SendCallback(ctx, a, result); err != nil {
			log.Error("Failed to send callback",
				"callback_action_type", a.CallbackActionType, "error", err)
		}
	}
}

// replyError emits a failure reply for request/response actions. Validation
// and handler failures of fire-and-forget actions end here, already logged.
func (w *Worker) replyError(ctx context.Context, a *actions.Action, cause error, log *slog.Logger) {
	failure := map[string]any{
		"error":      apperr.MessageOf(cause),
		"error_type": string(apperr.KindOf(cause)),
	}

	if replyKey := bus.ReplyQueueOf(a); replyKey != "" {
		reply := actions.New(replyActionType(a), a.TenantID, w.bus.Service())
		reply.SessionID = a.SessionID
		reply.TaskID = a.TaskID
		reply.Data = failure
		if err := w.bus.SendReply(ctx, replyKey, reply); err != nil {
			log.Error("Failed to send synchronous failure reply", "error", err)
		}
		return
	}

	if a.CallbackActionType != "" {
		if err := w.bus.SendCallback(ctx, a, failure); err != nil {
			log.Error("Failed to send failure callback", "error", err)
		}
	}
}

// replyActionType names the reply for synchronous sends that declared no
// callback type.
func replyActionType(a *actions.Action) string {
	if a.CallbackActionType != "" {
		return a.CallbackActionType
	}
	return fmt.Sprintf("%s.reply", a.ActionType)
}

func (w *Worker) setStatus(status Status, actionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentActionID = actionID
	w.lastActivity = time.Now()
}
