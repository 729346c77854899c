// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/drawbridge-labs/drawbridge/lib/secret"
	"github.com/drawbridge-labs/drawbridge/vault"
)

// adminHandler serves the credential-management endpoints. Every
// request must present the admin bearer token; the token itself is
// never logged, only a keyed-hash fingerprint of whatever was
// presented, so failed attempts can be correlated without the log
// becoming a token archive.
type adminHandler struct {
	vault  *vault.Vault
	token  *secret.Buffer
	logger *slog.Logger
}

// tokenFingerprint returns a short hex fingerprint of a presented
// token for audit logs.
func tokenFingerprint(presented []byte) string {
	sum := blake3.Sum256(presented)
	return fmt.Sprintf("%x", sum[:8])
}

// authorize checks the bearer token. On failure it writes the 401 and
// returns false.
func (h *adminHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	header := r.Header.Get("Authorization")
	presented, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || presented == "" {
		h.logger.Warn("admin request without bearer token", "path", r.URL.Path)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "admin token required"})
		return false
	}
	if !h.token.Equal([]byte(presented)) {
		h.logger.Warn("admin request with wrong token",
			"path", r.URL.Path,
			"tokenFingerprint", tokenFingerprint([]byte(presented)))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "admin token not recognized"})
		return false
	}
	return true
}

func (h *adminHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	infos, err := h.vault.List(r.Context())
	if err != nil {
		h.logger.Error("listing credentials", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "credential store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": infos})
}

func (h *adminHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	integration := r.PathValue("integration")
	var fields map[string]string
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	version, err := h.vault.Put(r.Context(), integration, fields)
	if err != nil {
		if errors.Is(err, vault.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Error("storing credential record", "integration", integration, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "credential store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"integration": integration, "version": version})
}

func (h *adminHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	integration := r.PathValue("integration")
	if err := h.vault.Delete(r.Context(), integration); err != nil {
		if errors.Is(err, vault.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Error("deleting credential record", "integration", integration, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "credential store unavailable"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// exportRequest is the POST /v1/credentials/export body.
type exportRequest struct {
	Recipients []string `json:"recipients"`
}

func (h *adminHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	var body exportRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	bundle, err := h.vault.Export(r.Context(), body.Recipients)
	if err != nil {
		h.logger.Error("exporting credential bundle", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "export failed; see server log"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"bundle": base64.StdEncoding.EncodeToString(bundle),
	})
}
