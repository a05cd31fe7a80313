package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"zapask/internal/logging"
)

const SignatureHeader = "X-Zapask-Signature"

// maxBodyBytes bounds what the signature check reads into memory.
const maxBodyBytes = 1 << 20

// VerifySignature rejects requests whose body is not signed with secret by
// the command router. An empty secret disables the check.
func VerifySignature(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			r.Body.Close()
			if err != nil {
				http.Error(w, "Bad Request", http.StatusBadRequest)
				return
			}

			if !verifyHMAC(secret, body, r.Header.Get(SignatureHeader)) {
				logging.LoggerFromContext(r.Context()).Warn("Invalid request signature")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// Sign returns the header value for body, "sha256=" followed by the hex
// HMAC.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	if !strings.HasPrefix(signature, "sha256=") {
		signature = "sha256=" + signature
	}
	return hmac.Equal([]byte(signature), []byte(Sign(secret, body)))
}
