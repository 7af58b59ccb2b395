package app

import (
	"errors"

	"humaniq/cmd/security/token"
)

// NewTokenHasher builds the invitation token hasher and enforces the HMAC policy.
// With HUMANIQ_REQUIRE_TOKEN_HMAC the process refuses to start on a missing or short key.
func NewTokenHasher(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return token.Hasher{}, errors.New("security policy: HUMANIQ_REQUIRE_TOKEN_HMAC=true but HUMANIQ_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return token.Hasher{}, errors.New("security policy: HUMANIQ_REQUIRE_TOKEN_HMAC=true but HUMANIQ_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return token.Hasher{}, err
		}
	}
	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, errors.New("security policy: HUMANIQ_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return h, nil
}
