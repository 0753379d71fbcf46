// Package devoracle serves a local stand-in for the lattice crypto oracle.
//
// It speaks the oracle's JSON protocol on POST /keygen, /encrypt and
// /decrypt, backed by ML-KEM-768 with AES-256-GCM. Keys and ciphertexts are
// standard base64. It is meant for development and tests; production
// deployments point the proxy at the real oracle.
package devoracle

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quantsphere/qmail/internal/api"
	"github.com/quantsphere/qmail/internal/crypto"
)

const maxBodyBytes = 1 << 20

// Server is the development oracle.
type Server struct {
	router *mux.Router
	logger *slog.Logger
}

// New returns a Server. A nil logger discards output.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{router: mux.NewRouter(), logger: logger}
	s.router.HandleFunc("/"+api.ActionKeygen, s.handleKeygen).Methods(http.MethodPost)
	s.router.HandleFunc("/"+api.ActionEncrypt, s.handleEncrypt).Methods(http.MethodPost)
	s.router.HandleFunc("/"+api.ActionDecrypt, s.handleDecrypt).Methods(http.MethodPost)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleKeygen(w http.ResponseWriter, r *http.Request) {
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		s.logger.ErrorContext(r.Context(), "keygen failed", "error", err)
		writeError(w, http.StatusInternalServerError, "keygen failed")
		return
	}
	defer crypto.Wipe(kp.SecretKey)

	writeJSON(w, api.KeygenResponse{
		PublicKey: crypto.ToBase64(kp.PublicKey),
		SecretKey: crypto.ToBase64(kp.SecretKey),
	})
}

func (s *Server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	var req api.EncryptRequest
	if !decode(w, r, &req) {
		return
	}
	pub, err := crypto.FromBase64(req.PublicKey)
	if err != nil || len(pub) != crypto.MLKEMPublicKeySize {
		writeError(w, http.StatusBadRequest, "invalid public key")
		return
	}

	sealed, err := crypto.SealForPublicKey(pub, []byte(req.Message))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid public key")
		return
	}
	writeJSON(w, api.EncryptResponse{Ciphertext: crypto.ToBase64(sealed)})
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req api.DecryptRequest
	if !decode(w, r, &req) {
		return
	}
	sk, err := crypto.FromBase64(req.SecretKey)
	if err != nil || len(sk) != crypto.MLKEMSecretKeySize {
		writeError(w, http.StatusBadRequest, "invalid secret key")
		return
	}
	defer crypto.Wipe(sk)
	sealed, err := crypto.FromBase64(req.Ciphertext)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ciphertext")
		return
	}

	pt, err := crypto.OpenWithSecretKey(sk, sealed)
	switch {
	case errors.Is(err, crypto.ErrInvalidCiphertextSize):
		writeError(w, http.StatusBadRequest, "invalid ciphertext")
		return
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, "decryption failed")
		return
	}
	writeJSON(w, api.DecryptResponse{Message: string(pt)})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request too large")
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: msg})
}
