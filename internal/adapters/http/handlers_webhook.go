package web

import (
	"io"
	"log/slog"
	"net/http"

	"academy/internal/application/orchestrators"
)

// handlePortalyWebhook ingests payment events. Only a bad signature is
// refused; every other outcome answers 200 so the provider stops redelivering.
func handlePortalyWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !app.Webhook.VerifySignature(body, r.Header.Get(orchestrators.SignatureHeader)) {
		slog.Warn("webhook_signature_invalid", "ip", r.RemoteAddr, "bytes", len(body))
		writeMessage(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	result, err := app.Webhook.Process(r.Context(), body)
	if err != nil {
		slog.Error("webhook_processing_failed", "error", err)
		writeJSON(w, http.StatusOK, orchestrators.WebhookResult{Success: true, Message: "Error logged, no retry needed"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}
