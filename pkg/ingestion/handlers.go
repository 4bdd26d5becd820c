package ingestion

import (
	"context"
	"encoding/json"

	"github.com/nooble8/ragcore/pkg/actions"
	"github.com/nooble8/ragcore/pkg/apperr"
	"github.com/nooble8/ragcore/pkg/vector"
	"github.com/nooble8/ragcore/pkg/worker"
)

// RegisterHandlers binds the ingestion action types to the service.
func (s *Service) RegisterHandlers(registry *worker.Registry) {
	registry.Register(actions.TypeIngestionProcess, s.HandleProcess, worker.WithTaskIDRequired())
	registry.Register(actions.TypeIngestionStatus, s.HandleStatus)
	registry.Register(actions.TypeIngestionAgentsUpdate, s.HandleAgentsUpdate)
	registry.Register(actions.TypeEmbeddingCallback, s.HandleEmbeddingCallback, worker.WithTaskIDRequired())
}

// HandleProcess serves ingestion.document.process: admission via the bus
// instead of HTTP.
func (s *Service) HandleProcess(ctx context.Context, a *actions.Action) (map[string]any, error) {
	var req IngestRequest
	if err := decodeData(a.Data, &req); err != nil {
		return nil, err
	}

	resp, err := s.Ingest(ctx, a.TenantID, a.UserID, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"task_id":       resp.TaskID,
		"document_id":   resp.DocumentID,
		"collection_id": resp.CollectionID,
		"status":        resp.Status,
		"message":       resp.Message,
	}, nil
}

// HandleStatus serves ingestion.document.status.
func (s *Service) HandleStatus(ctx context.Context, a *actions.Action) (map[string]any, error) {
	taskID := a.DataString("task_id")
	if taskID == "" {
		taskID = a.TaskID
	}

	view, err := s.TaskStatus(ctx, taskID, a.UserID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return map[string]any{
				"task_id": taskID,
				"status":  "not_found",
				"message": "Task not found",
			}, nil
		}
		return nil, err
	}

	return map[string]any{
		"task_id": view.TaskID,
		"status":  view.Status,
		"progress": map[string]any{
			"total_chunks":     view.TotalChunks,
			"processed_chunks": view.ProcessedChunks,
		},
	}, nil
}

// HandleAgentsUpdate serves ingestion.document.agents.update.
func (s *Service) HandleAgentsUpdate(ctx context.Context, a *actions.Action) (map[string]any, error) {
	documentID := a.DataString("document_id")
	if documentID == "" {
		return nil, apperr.New(apperr.KindValidation, "document_id is required")
	}
	op := vector.AgentsOp(a.DataString("operation"))
	if op == "" {
		op = vector.AgentsSet
	}
	agentIDs := NormalizeAgentIDs(a.DataStrings("agent_ids"))

	if err := s.UpdateDocumentAgents(ctx, a.TenantID, documentID, agentIDs, op); err != nil {
		return nil, err
	}
	return map[string]any{
		"success":     true,
		"document_id": documentID,
		"agent_ids":   agentIDs,
		"operation":   string(op),
	}, nil
}

// decodeData round-trips an action's data map into a typed request.
func decodeData(data map[string]any, target any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "malformed action data", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return apperr.Wrap(apperr.KindValidation, "malformed action data", err)
	}
	return nil
}
