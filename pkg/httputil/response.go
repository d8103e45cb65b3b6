package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type envelope map[string]any

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", slog.Any("err", err))
	}
}

// OK — успешный ответ с обёрткой {"data": ...}.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, envelope{"data": data})
}

// Created — то же, что OK, но со статусом 201.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, envelope{"data": data})
}

// Error — унифицированная ошибка: {"error": {"message": ..., "reason": ...}}.
// reason — машиночитаемый код отказа (permission_denied, target_offline, ...),
// пустая строка допустима.
func Error(w http.ResponseWriter, status int, msg, reason string) {
	inner := envelope{"message": msg}
	if reason != "" {
		inner["reason"] = reason
	}
	JSON(w, status, envelope{"error": inner})
}
