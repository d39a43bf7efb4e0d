// Package middleware содержит HTTP middleware сервиса синхронизации.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminAuth проверяет административный bearer-ключ в заголовке Authorization.
type AdminAuth struct {
	apiKey string
}

// NewAdminAuth создаёт middleware с указанным административным ключом.
func NewAdminAuth(apiKey string) *AdminAuth {
	return &AdminAuth{apiKey: apiKey}
}

// Middleware отклоняет запрос с неверным или отсутствующим ключом.
// Незаданный серверный ключ означает отказ всем: совпадения быть не может.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiKey == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(a.apiKey)) != 1 {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
