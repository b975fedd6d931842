// Package control implements the command/response protocol the host
// application uses to inspect and manage the cache partitions. Commands are a
// closed set; an unrecognized type is an explicit error rather than a silent
// no-op.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/quayside/cachegate/internal/gateway/store"
)

// CommandType enumerates the supported commands.
type CommandType string

const (
	CommandCacheStats   CommandType = "CACHE_STATS"
	CommandClearCache   CommandType = "CLEAR_CACHE"
	CommandPrecacheURLs CommandType = "PRECACHE_URLS"
)

// ErrUnknownCommand is returned for command types outside the closed set.
var ErrUnknownCommand = errors.New("control: unknown command type")

// ErrBadPayload is returned when a command payload does not decode.
var ErrBadPayload = errors.New("control: invalid payload")

// Command is the request envelope.
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the reply envelope, delivered to the requesting sender only.
type Response struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// PrecachePayload carries the URL list for PRECACHE_URLS.
type PrecachePayload struct {
	URLs []string `json:"urls"`
}

// ClearResult reports how many partitions CLEAR_CACHE removed.
type ClearResult struct {
	Cleared int `json:"cleared"`
}

// PrecacheResult reports the URLs PRECACHE_URLS stored. Failures are
// excluded, not raised.
type PrecacheResult struct {
	Succeeded []string `json:"succeeded"`
}

// Handler executes control commands against the store manager.
type Handler struct {
	store  *store.Manager
	logger *slog.Logger
}

// NewHandler wires the control channel to the store manager.
func NewHandler(manager *store.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  manager,
		logger: logger.With(slog.String("agent", "control")),
	}
}

// Execute runs one command and shapes its response envelope. The switch is
// exhaustive over the closed command set.
func (h *Handler) Execute(ctx context.Context, cmd Command) (Response, error) {
	switch cmd.Type {
	case CommandCacheStats:
		stats, err := h.store.Stats(ctx)
		if err != nil {
			return Response{}, fmt.Errorf("control: cache stats: %w", err)
		}
		return Response{Type: responseType(cmd.Type), Payload: stats}, nil

	case CommandClearCache:
		cleared, err := h.store.Clear(ctx)
		if err != nil {
			return Response{}, fmt.Errorf("control: clear cache: %w", err)
		}
		return Response{Type: responseType(cmd.Type), Payload: ClearResult{Cleared: cleared}}, nil

	case CommandPrecacheURLs:
		var payload PrecachePayload
		if len(cmd.Payload) > 0 {
			if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
				return Response{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
			}
		}
		result, err := h.store.Precache(ctx, store.LogicalDynamic, payload.URLs)
		if err != nil {
			return Response{}, fmt.Errorf("control: precache: %w", err)
		}
		succeeded := result.Succeeded
		if succeeded == nil {
			succeeded = []string{}
		}
		return Response{Type: responseType(cmd.Type), Payload: PrecacheResult{Succeeded: succeeded}}, nil

	default:
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
}

// ServeHTTP accepts a command envelope over POST and replies with the
// response envelope. Unknown commands and bad payloads produce a 400 with a
// JSON error body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "control commands require POST")
		return
	}
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "malformed command envelope")
		return
	}

	resp, err := h.Execute(r.Context(), cmd)
	if err != nil {
		h.logger.Warn("command failed", slog.String("type", string(cmd.Type)), slog.Any("error", err))
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownCommand) || errors.Is(err, ErrBadPayload) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	h.logger.Debug("command executed", slog.String("type", string(cmd.Type)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func responseType(cmd CommandType) string {
	return string(cmd) + "_RESPONSE"
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
