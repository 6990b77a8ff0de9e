// Package auth mints and checks the HMAC tokens that guard the media-stream
// socket. A token is bound to one call id and expires; the carrier presents
// it in the stream URL when it dials back.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenFormat = errors.New("invalid token format")
	ErrTokenSig    = errors.New("invalid token signature")
	ErrTokenExp    = errors.New("token expired")
	ErrTokenCall   = errors.New("call id mismatch")
)

// MintStreamToken builds a stream token for one call.
// Format: base64url(call_id "." exp_unix "." hex(hmac_sha256(secret, call_id "." exp_unix))).
func MintStreamToken(secret, callID string, exp time.Time) string {
	msg := callID + "." + strconv.FormatInt(exp.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	sig := hex.EncodeToString(mac.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(msg + "." + sig))
}

// ValidateStreamToken checks signature, call binding, and expiry (with skew).
// Returns the embedded call id.
func ValidateStreamToken(secret, token, expectCallID string, now time.Time, skewSeconds int) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrTokenFormat
	}
	parts := strings.Split(string(raw), ".")
	if len(parts) != 3 {
		return "", ErrTokenFormat
	}
	callID, expStr, sigHex := parts[0], parts[1], parts[2]

	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", ErrTokenFormat
	}
	if expectCallID != "" && callID != expectCallID {
		return "", ErrTokenCall
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(callID + "." + expStr))
	want := mac.Sum(nil)
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", ErrTokenFormat
	}
	if !hmac.Equal(want, got) {
		return "", ErrTokenSig
	}

	if now.Unix() > exp+int64(skewSeconds) {
		return "", ErrTokenExp
	}
	return callID, nil
}
