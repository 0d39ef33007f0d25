// Package httputil provides HTTP utilities for standardized request/response handling.
//
// Responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "invalid input")
//	httputil.WriteServiceUnavailable(w, "permission store unavailable")
//
// Error bodies always have the shape {"error": "..."}.
//
// Requests:
//
//	projectID, ok := httputil.ParsePathStringOrError(w, r, "projectId")
//	if !ok {
//		return
//	}
//
// Middleware:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
