package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/sphinx-bot/eventsub"
	"github.com/onnwee/sphinx-bot/telemetry"
)

const maxEventSubBody = 1 << 20

// HandleEventSub receives Twitch EventSub webhook deliveries.
//
//	200 verification challenge echoed as text/plain (redeliveries included)
//	204 notification or revocation accepted (including duplicates)
//	400 unreadable body, stale timestamp or malformed JSON
//	403 signature mismatch
//	405 anything but POST
func (h *Handlers) HandleEventSub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	logger := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "eventsub_http"))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventSubBody))
	if err != nil {
		logger.Warn("read eventsub body failed", slog.Any("err", err))
		telemetry.CountRejection("body")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	env := eventsub.FromHeaders(r.Header, body)

	if err := h.verifier.Check(env); err != nil {
		telemetry.CountSignatureFailure()
		logger.Warn("eventsub signature rejected", slog.String("message_id", env.MessageID))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if h.guard != nil {
		err := h.guard.Check(r.Context(), env)
		switch {
		case err == nil:
		case errors.Is(err, eventsub.ErrDuplicateMessage) && env.MessageType == eventsub.MessageTypeVerification:
			// A redelivered challenge is answered again; verification never mutates state.
			logger.Info("duplicate eventsub verification", slog.String("message_id", env.MessageID))
		case errors.Is(err, eventsub.ErrDuplicateMessage):
			telemetry.CountRejection("duplicate")
			logger.Info("duplicate eventsub delivery", slog.String("message_id", env.MessageID))
			w.WriteHeader(http.StatusNoContent)
			return
		default:
			telemetry.CountRejection("stale")
			logger.Warn("stale eventsub delivery", slog.String("message_id", env.MessageID), slog.Any("err", err))
			http.Error(w, "stale message", http.StatusBadRequest)
			return
		}
	}

	out, err := h.dispatcher.Dispatch(r.Context(), env)
	if err != nil {
		if errors.Is(err, eventsub.ErrMalformedPayload) {
			telemetry.CountRejection("malformed")
			logger.Warn("malformed eventsub payload", slog.String("message_id", env.MessageID), slog.Any("err", err))
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		logger.Error("eventsub handler failed", slog.String("message_id", env.MessageID), slog.Any("err", err))
	}

	if env.MessageType == eventsub.MessageTypeVerification {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, out.Challenge)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
