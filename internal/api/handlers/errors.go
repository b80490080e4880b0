package handlers

import (
	"net/http"

	"github.com/mnema-ai/mnema/internal/domain"
	"go.uber.org/zap"
)

// userMessages maps error kinds to the short, identifier-free text shown to
// the person chatting.
var userMessages = map[domain.ErrorKind]string{
	domain.KindConnection:      "I'm having trouble accessing my memory right now.",
	domain.KindQuery:           "I'm having trouble accessing my memory right now.",
	domain.KindIntegrity:       "I'm having trouble saving that right now.",
	domain.KindRateLimit:       "I'm a bit overloaded at the moment, please try again shortly.",
	domain.KindAuth:            "I'm having trouble connecting to my AI brain.",
	domain.KindProvider:        "I'm having trouble connecting to my AI brain.",
	domain.KindValidation:      "I couldn't make sense of that request.",
	domain.KindInvalidCommand:  "I don't recognize that command.",
	domain.KindMissingConfig:   "I'm not fully configured yet, please contact an admin.",
	domain.KindInvalidConfig:   "I'm not fully configured yet, please contact an admin.",
	domain.KindFeatureDisabled: "That feature is turned off.",
	domain.KindNotImplemented:  "I can't do that yet.",
	domain.KindUnauthorized:    "You're not allowed to do that.",
	domain.KindRateLimited:     "You're sending messages too quickly, please slow down.",
}

const fallbackMessage = "Something went wrong on my end. Please try again."

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation, domain.KindInvalidCommand:
		return http.StatusBadRequest
	case domain.KindUnauthorized, domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindRateLimited, domain.KindRateLimit:
		return http.StatusTooManyRequests
	case domain.KindFeatureDisabled:
		return http.StatusForbidden
	case domain.KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// respondError is the central error router: it logs the full error, then
// writes a user-safe message whose detail is governed by the verbosity
// knob (0 silent, 1 generic, 2 plus kind, 3 full error text).
func respondError(w http.ResponseWriter, logger *zap.Logger, verbosity int, err error) {
	kind := domain.KindOf(err)
	logger.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))

	status := statusFor(kind)
	switch verbosity {
	case 0:
		w.WriteHeader(status)
	case 2:
		msg, ok := userMessages[kind]
		if !ok {
			msg = fallbackMessage
		}
		writeJSON(w, status, map[string]string{"error": msg, "kind": string(kind)})
	case 3:
		writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(kind)})
	default:
		msg, ok := userMessages[kind]
		if !ok {
			msg = fallbackMessage
		}
		writeError(w, status, msg)
	}
}
