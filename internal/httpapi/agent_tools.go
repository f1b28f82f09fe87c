package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/automation/validate"
)

// agentTool describes one entry of the JSON-RPC-style tool surface. It is
// peripheral per spec.md §6 but costs little once the REST handlers exist to
// wrap, so SPEC_FULL.md keeps it rather than omitting it.
type agentTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Params      any    `json:"params"`
}

var agentTools = []agentTool{
	{Name: "list_automations", Description: "List all automations.", Params: struct{}{}},
	{Name: "get_automation", Description: "Fetch one automation by id.", Params: struct {
		ID string `json:"id"`
	}{}},
	{Name: "create_automation", Description: "Create an automation.", Params: automation.Rule{}},
	{Name: "update_automation", Description: "Replace an automation by id.", Params: automation.Rule{}},
	{Name: "delete_automation", Description: "Delete an automation by id.", Params: struct {
		ID string `json:"id"`
	}{}},
	{Name: "execute_automation", Description: "Manually trigger an automation.", Params: struct {
		ID         string         `json:"id"`
		Parameters map[string]any `json:"parameters"`
	}{}},
	{Name: "test_automation", Description: "Dry-run an automation against a mock trigger.", Params: struct {
		ID      string                   `json:"id"`
		Trigger automation.TriggerEvent  `json:"trigger"`
	}{}},
	{Name: "enable_automation", Description: "Enable an automation.", Params: struct {
		ID string `json:"id"`
	}{}},
	{Name: "disable_automation", Description: "Disable an automation.", Params: struct {
		ID string `json:"id"`
	}{}},
}

func (s *Server) handleListAgentTools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"tools": agentTools})
}

// handleInvokeAgentTool dispatches a named tool call to the same logic the
// REST handlers use, decoding the call's body as that tool's params.
func (s *Server) handleInvokeAgentTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	switch name {
	case "list_automations":
		rules, err := s.rules.ListRules(r.Context(), false)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "internal_error", "failed to list automations", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"automations": rules})

	case "get_automation":
		var req struct {
			ID string `json:"id"`
		}
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid tool call body", err)
			return
		}
		rule, err := s.rules.GetRule(r.Context(), req.ID)
		if !respondStoreErr(w, err, "automation") {
			return
		}
		respondJSON(w, http.StatusOK, rule)

	case "create_automation":
		var rule automation.Rule
		if err := decode(r, &rule); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid tool call body", err)
			return
		}
		if err := validate.Rule(&rule); err != nil {
			respondError(w, http.StatusBadRequest, "validation_error", "automation failed validation", err)
			return
		}
		if err := s.rules.CreateRule(r.Context(), &rule); err != nil {
			respondError(w, http.StatusInternalServerError, "internal_error", "failed to create automation", err)
			return
		}
		respondJSON(w, http.StatusCreated, rule)

	case "update_automation":
		var rule automation.Rule
		if err := decode(r, &rule); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid tool call body", err)
			return
		}
		if err := validate.Rule(&rule); err != nil {
			respondError(w, http.StatusBadRequest, "validation_error", "automation failed validation", err)
			return
		}
		if err := s.rules.UpdateRule(r.Context(), &rule); !respondStoreErr(w, err, "automation") {
			return
		}
		respondJSON(w, http.StatusOK, rule)

	case "delete_automation":
		var req struct {
			ID string `json:"id"`
		}
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid tool call body", err)
			return
		}
		if err := s.rules.DeleteRule(r.Context(), req.ID); !respondStoreErr(w, err, "automation") {
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"id": req.ID, "status": "deleted"})

	case "execute_automation":
		var req struct {
			ID         string         `json:"id"`
			Parameters map[string]any `json:"parameters"`
		}
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid tool call body", err)
			return
		}
		if s.exec == nil {
			respondError(w, http.StatusInternalServerError, "internal_error", "executor not wired", nil)
			return
		}
		executionID, err := s.exec.TriggerManually(r.Context(), req.ID, req.Parameters, 0)
		if err != nil {
			respondError(w, http.StatusBadRequest, "program_error", "failed to trigger automation", err)
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"executionId": executionID})

	case "test_automation":
		var req struct {
			ID      string                  `json:"id"`
			Trigger automation.TriggerEvent `json:"trigger"`
		}
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid tool call body", err)
			return
		}
		if s.exec == nil {
			respondError(w, http.StatusInternalServerError, "internal_error", "executor not wired", nil)
			return
		}
		outline, err := s.exec.Test(r.Context(), req.ID, req.Trigger)
		if err != nil {
			respondError(w, http.StatusNotFound, "not_found", "automation not found", err)
			return
		}
		respondJSON(w, http.StatusOK, outline)

	case "enable_automation", "disable_automation":
		var req struct {
			ID string `json:"id"`
		}
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid tool call body", err)
			return
		}
		enabled := name == "enable_automation"
		if err := s.rules.SetEnabled(r.Context(), req.ID, enabled); !respondStoreErr(w, err, "automation") {
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"id": req.ID, "enabled": enabled})

	default:
		respondError(w, http.StatusNotFound, "not_found", "unknown agent tool: "+name, nil)
	}
}

func decode(r *http.Request, dest any) error {
	return json.NewDecoder(r.Body).Decode(dest)
}
