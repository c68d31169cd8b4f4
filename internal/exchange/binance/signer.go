package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// requestSigner HMAC-SHA256-signs outbound requests the way Binance's
// SIGNED endpoints require: the entire query string is the signing
// payload, the signature is appended as a query parameter, and the key
// travels as a header, never in the body.
type requestSigner struct {
	apiKey    string
	apiSecret string
}

func newSigner(apiKey, apiSecret string) *requestSigner {
	return &requestSigner{apiKey: apiKey, apiSecret: apiSecret}
}

func (s *requestSigner) SignRequest(req *http.Request) error {
	req.Header.Set("X-MBX-APIKEY", s.apiKey)

	query := req.URL.Query()
	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte(query.Encode()))
	signature := hex.EncodeToString(mac.Sum(nil))

	query.Set("signature", signature)
	req.URL.RawQuery = query.Encode()
	return nil
}
