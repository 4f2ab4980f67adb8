package signature

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const (
	// PaystackHeader carries the Paystack body signature.
	PaystackHeader = "x-paystack-signature"
	// FlutterwaveHeader carries the Flutterwave secret hash.
	FlutterwaveHeader = "verif-hash"
)

// HMACSHA512Hex returns the lowercase hex HMAC-SHA512 of body using key.
func HMACSHA512Hex(body, key []byte) string {
	m := hmac.New(sha512.New, key)
	_, _ = m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

// VerifyPaystack checks a Paystack webhook signature over the raw request body.
func VerifyPaystack(body []byte, header, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ErrSecretMissing
	}
	header = strings.ToLower(strings.TrimSpace(header))
	if header == "" {
		return ErrSignatureMissing
	}
	want := HMACSHA512Hex(body, []byte(secret))
	if !hmac.Equal([]byte(want), []byte(header)) {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyFlutterwave checks the verif-hash header against the configured secret hash.
func VerifyFlutterwave(header, secretHash string) error {
	secretHash = strings.TrimSpace(secretHash)
	if secretHash == "" {
		return ErrSecretMissing
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrSignatureMissing
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(secretHash)) != 1 {
		return ErrSignatureInvalid
	}
	return nil
}
