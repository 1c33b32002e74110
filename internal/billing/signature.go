package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrBadSignature marks a webhook whose signature did not verify. The
// payload is discarded without touching any state.
var ErrBadSignature = errors.New("invalid webhook signature")

// signatureTolerance bounds how old a signed timestamp may be, so captured
// payloads cannot be replayed later.
const signatureTolerance = 5 * time.Minute

// verifySignature checks a Stripe-Signature header (t=<unix>,v1=<hmac>)
// against the payload. The scheme is HMAC-SHA256 over "<t>.<payload>" with
// the endpoint secret.
func verifySignature(payload []byte, header, secret string, now time.Time) error {
	if header == "" {
		return fmt.Errorf("%w: missing signature header", ErrBadSignature)
	}

	var ts int64
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
			}
			ts = n
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed signature header", ErrBadSignature)
	}

	age := now.Sub(time.Unix(ts, 0))
	if age < -signatureTolerance || age > signatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return ErrBadSignature
}

// SignPayload produces a Stripe-Signature header for a payload. Used by
// tests and local tooling to exercise the webhook endpoint.
func SignPayload(payload []byte, secret string, now time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", now.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
