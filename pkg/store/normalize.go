package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nooble8/ragcore/pkg/config"
)

// pick returns the first present key from the row. Rows coming from views may
// use either camelCase or snake_case column names.
func pick(row map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := row[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

func asMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case []byte:
		var out map[string]any
		if err := json.Unmarshal(m, &out); err == nil {
			return out
		}
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(m), &out); err == nil {
			return out
		}
	}
	return nil
}

// ParseTimestamp parses a timestamp value from a row, tolerating time.Time
// values, RFC3339 strings, and the Z-suffixed ISO form (normalized to +00:00
// before parsing, matching the upstream views).
func ParseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		s := strings.Replace(t, "Z", "+00:00", 1)
		for _, layout := range []string{
			"2006-01-02T15:04:05.999999999-07:00",
			"2006-01-02T15:04:05-07:00",
			"2006-01-02 15:04:05.999999999-07:00",
		} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

// AgentConfigFromRow normalizes an agents_with_prompt row — camelCase or
// snake_case — into an AgentConfig. Config blocks are decoded through their
// typed structs, which whitelists fields; anything unknown is dropped.
func AgentConfigFromRow(row map[string]any) *config.AgentConfig {
	cfg := &config.AgentConfig{
		AgentID:   asString(pick(row, "id", "agent_id", "agentId")),
		AgentName: asString(pick(row, "name", "agent_name", "agentName")),
		TenantID:  asString(pick(row, "user_id", "userId")),
		CreatedAt: ParseTimestamp(pick(row, "created_at", "createdAt")),
		UpdatedAt: ParseTimestamp(pick(row, "updated_at", "updatedAt")),
	}

	decodeInto(pick(row, "execution_config", "executionConfig"), &cfg.ExecutionConfig)
	decodeInto(pick(row, "query_config", "queryConfig"), &cfg.QueryConfig)
	decodeInto(pick(row, "rag_config", "ragConfig"), &cfg.RAGConfig)

	// The stored system_prompt column (resolved by the view) backs the
	// template when the config block leaves it empty.
	if prompt := asString(pick(row, "system_prompt", "systemPrompt")); prompt != "" {
		cfg.QueryConfig.SystemPrompt = prompt
	}

	cfg.Normalize()
	return cfg
}

// decodeInto round-trips a loosely typed config value through JSON into the
// typed block, discarding unknown fields.
func decodeInto(v any, target any) {
	m := asMap(v)
	if m == nil {
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, target)
}
