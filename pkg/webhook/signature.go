/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// SignatureHeader is the header carrying the hex-encoded HMAC-SHA256 of
// the raw request body.
const SignatureHeader = "X-Signal-Signature"

// ErrMissingSignature indicates the request carried no signature header.
var ErrMissingSignature = errors.New("webhook: missing signature header")

// ErrInvalidSignature indicates the signature did not verify against the
// configured secret.
var ErrInvalidSignature = errors.New("webhook: signature verification failed")

// verifySignature recomputes the HMAC-SHA256 of body with secret and
// compares it, in constant time, against the hex-encoded signature
// supplied by the caller. Nothing about an event is trusted before this
// passes (spec.md §4.6: "signature failure -> nothing processed").
func verifySignature(secret []byte, body []byte, signatureHex string) error {
	if signatureHex == "" {
		return ErrMissingSignature
	}

	got, err := hex.DecodeString(signatureHex)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	want := mac.Sum(nil)

	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}
