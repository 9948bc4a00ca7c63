package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSignature is returned when a webhook signature does not match.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifySignature checks the x-signature header ("ts=...,v1=...") of a
// webhook against an HMAC-SHA256 of the manifest
// "id:{dataID};request-id:{requestID};ts:{ts};". An empty secret disables
// verification.
func VerifySignature(secret, header, requestID, dataID string) error {
	if secret == "" {
		return nil
	}

	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return ErrInvalidSignature
	}

	got, err := hex.DecodeString(v1)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, Sign(secret, Manifest(dataID, requestID, ts))) {
		return ErrInvalidSignature
	}
	return nil
}

// Manifest builds the signed string. Gateway ids are matched lower-case.
func Manifest(dataID, requestID, ts string) string {
	return fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(dataID), requestID, ts)
}

// Sign returns the raw HMAC-SHA256 of manifest
func Sign(secret, manifest string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return mac.Sum(nil)
}
