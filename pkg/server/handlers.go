package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mnohosten/versa-db/pkg/mvcc"
	"github.com/mnohosten/versa-db/pkg/store"
)

// Handlers holds the engine and provides HTTP handlers. Keys and values
// travel base64-encoded, since they are arbitrary bytes.
type Handlers struct {
	engine *mvcc.Engine
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine *mvcc.Engine) *Handlers {
	return &Handlers{engine: engine}
}

type beginRequest struct {
	Mode    string `json:"mode,omitempty"`
	Version uint64 `json:"version,omitempty"`
}

type txnResponse struct {
	ID   uint64 `json:"id"`
	Mode string `json:"mode"`
}

type valueRequest struct {
	Value string `json:"value"`
}

type pairResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Health returns a liveness handler.
func (h *Handlers) Health(startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, map[string]interface{}{
			"status": "ok",
			"uptime": time.Since(startTime).String(),
		})
	}
}

// Status reports the engine's transaction counters.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, status)
}

// GetMetadata fetches an unversioned metadata value.
func (h *Handlers) GetMetadata(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	value, ok, err := h.engine.GetMetadata(key)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, &notFoundError{message: "metadata key not found"})
		return
	}
	writeSuccess(w, map[string]string{"value": encodeBytes(value)})
}

// SetMetadata sets an unversioned metadata value.
func (h *Handlers) SetMetadata(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req valueRequest
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	value, err := decodeBytes(req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.engine.SetMetadata(key, value); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

// Begin starts a transaction and returns its ID.
func (h *Handlers) Begin(w http.ResponseWriter, r *http.Request) {
	req := beginRequest{Mode: "read-write"}
	if r.ContentLength != 0 {
		if err := parseJSONBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	var mode mvcc.Mode
	switch req.Mode {
	case "", "read-write":
		mode = mvcc.ReadWrite()
	case "read-only":
		mode = mvcc.ReadOnly()
	case "snapshot":
		mode = mvcc.Snapshot(req.Version)
	default:
		writeError(w, &badRequestError{message: "unknown transaction mode: " + req.Mode})
		return
	}

	txn, err := h.engine.BeginWithMode(mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, txnResponse{ID: txn.ID(), Mode: txn.Mode().String()})
}

// Commit commits a transaction.
func (h *Handlers) Commit(w http.ResponseWriter, r *http.Request) {
	txn, err := h.resume(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := txn.Commit(); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

// Rollback rolls a transaction back.
func (h *Handlers) Rollback(w http.ResponseWriter, r *http.Request) {
	txn, err := h.resume(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := txn.Rollback(); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

// Get fetches a key within a transaction.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	txn, err := h.resume(r)
	if err != nil {
		writeError(w, err)
		return
	}
	key, err := pathKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	value, ok, err := txn.Get(key)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, &notFoundError{message: "key not found"})
		return
	}
	writeSuccess(w, map[string]string{"value": encodeBytes(value)})
}

// Set writes a key within a transaction.
func (h *Handlers) Set(w http.ResponseWriter, r *http.Request) {
	txn, err := h.resume(r)
	if err != nil {
		writeError(w, err)
		return
	}
	key, err := pathKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req valueRequest
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	value, err := decodeBytes(req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := txn.Set(key, value); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

// Delete removes a key within a transaction.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	txn, err := h.resume(r)
	if err != nil {
		writeError(w, err)
		return
	}
	key, err := pathKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := txn.Delete(key); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

// Scan streams the visible pairs of a range or prefix within a
// transaction. Query parameters: start, end, prefix (base64), reverse,
// limit.
func (h *Handlers) Scan(maxLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txn, err := h.resume(r)
		if err != nil {
			writeError(w, err)
			return
		}

		q := r.URL.Query()
		limit := maxLimit
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, &badRequestError{message: "invalid limit: " + raw})
				return
			}
			if n < limit {
				limit = n
			}
		}

		var scan *mvcc.Scan
		if prefix := q.Get("prefix"); prefix != "" {
			p, err := decodeBytes(prefix)
			if err != nil {
				writeError(w, err)
				return
			}
			scan, err = txn.ScanPrefix(p)
			if err != nil {
				writeError(w, err)
				return
			}
		} else {
			rng := store.RangeAll()
			if raw := q.Get("start"); raw != "" {
				key, err := decodeBytes(raw)
				if err != nil {
					writeError(w, err)
					return
				}
				rng.Start = store.Include(key)
			}
			if raw := q.Get("end"); raw != "" {
				key, err := decodeBytes(raw)
				if err != nil {
					writeError(w, err)
					return
				}
				rng.End = store.Exclude(key)
			}
			scan = txn.Scan(rng)
		}

		reverse := q.Get("reverse") == "true"
		pairs := make([]pairResponse, 0, 16)
		for len(pairs) < limit {
			var k, v []byte
			var ok bool
			if reverse {
				k, v, ok = scan.NextBack()
			} else {
				k, v, ok = scan.Next()
			}
			if !ok {
				break
			}
			pairs = append(pairs, pairResponse{Key: encodeBytes(k), Value: encodeBytes(v)})
		}
		if err := scan.Err(); err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, map[string]interface{}{"pairs": pairs})
	}
}

// resume rebuilds the transaction handle named in the URL.
func (h *Handlers) resume(r *http.Request) (*mvcc.Transaction, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, &badRequestError{message: "invalid transaction id: " + raw}
	}
	return h.engine.Resume(id)
}

func pathKey(r *http.Request) ([]byte, error) {
	return decodeBytes(chi.URLParam(r, "key"))
}

func encodeBytes(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeBytes(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, &badRequestError{message: "invalid base64: " + err.Error()}
	}
	return b, nil
}

// parseJSONBody parses JSON request body into target
func parseJSONBody(r *http.Request, target interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return &badRequestError{message: "failed to read request body"}
	}
	defer r.Body.Close()

	if len(body) == 0 {
		return &badRequestError{message: "request body is empty"}
	}

	if err := json.Unmarshal(body, target); err != nil {
		return &badRequestError{message: "invalid JSON: " + err.Error()}
	}

	return nil
}

// Error types for consistent error handling

type badRequestError struct {
	message string
}

func (e *badRequestError) Error() string {
	return e.message
}

type notFoundError struct {
	message string
}

func (e *notFoundError) Error() string {
	return e.message
}

// writeError writes an error response with the HTTP status the engine
// error maps to.
func writeError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	errorType := "InternalError"

	var badReq *badRequestError
	var notFound *notFoundError
	var valueErr *mvcc.ValueError
	switch {
	case errors.Is(err, mvcc.ErrSerialization):
		statusCode = http.StatusConflict
		errorType = "Serialization"
	case errors.Is(err, mvcc.ErrReadOnly):
		statusCode = http.StatusForbidden
		errorType = "ReadOnly"
	case errors.As(err, &badReq):
		statusCode = http.StatusBadRequest
		errorType = "BadRequest"
	case errors.As(err, &notFound):
		statusCode = http.StatusNotFound
		errorType = "NotFound"
	case errors.As(err, &valueErr):
		errorType = "Value"
		if strings.Contains(valueErr.Message, "not found") ||
			strings.Contains(valueErr.Message, "no active transaction") {
			statusCode = http.StatusNotFound
		} else {
			statusCode = http.StatusBadRequest
		}
	}

	response := map[string]interface{}{
		"ok":      false,
		"error":   errorType,
		"message": err.Error(),
		"code":    statusCode,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, result interface{}) {
	response := map[string]interface{}{
		"ok": true,
	}
	if result != nil {
		response["result"] = result
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}
