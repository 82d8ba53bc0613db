package handlers

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"sort"
	"strings"

	"github.com/md-rashed-zaman/upachar/libs/auth"
)

type TokenSigner interface {
	Sign(claims auth.Claims) (string, error)
	Verify(token string) (*auth.Claims, error)
	// JWKS lists the public keys a verifier may see; empty for shared-secret signers.
	JWKS() []map[string]any
}

type hs256Signer struct {
	secret string
}

func NewHS256Signer(secret string) TokenSigner {
	return &hs256Signer{secret: secret}
}

func (s *hs256Signer) Sign(claims auth.Claims) (string, error) {
	return auth.SignHS256(claims, s.secret)
}

func (s *hs256Signer) Verify(token string) (*auth.Claims, error) {
	return auth.ParseAndVerifyHS256(token, s.secret)
}

func (s *hs256Signer) JWKS() []map[string]any {
	return nil
}

type rsaKey struct {
	kid string
	key *rsa.PrivateKey
}

// KeySetSigner signs with the active key and verifies against every configured key,
// so tokens issued before a key change stay valid until they expire.
type KeySetSigner struct {
	active string
	keys   map[string]rsaKey
}

func NewRS256Signer(pemBytes []byte, kid string) (TokenSigner, error) {
	key, err := parseRSAPrivateKey(pemBytes)
	if err != nil {
		return nil, err
	}
	if kid == "" {
		kid = keyIDFromPublicKey(&key.PublicKey)
	}
	s, err := NewKeySetSigner(map[string]*rsa.PrivateKey{kid: key}, kid)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func ParseRS256KeySet(pemBlobs string) (map[string]*rsa.PrivateKey, error) {
	keys := map[string]*rsa.PrivateKey{}
	for _, block := range splitPEMBlocks(pemBlobs) {
		key, err := parseRSAPrivateKey([]byte(block))
		if err != nil {
			return nil, err
		}
		keys[keyIDFromPublicKey(&key.PublicKey)] = key
	}
	if len(keys) == 0 {
		return nil, errors.New("no valid rsa keys found")
	}
	return keys, nil
}

// NewKeySetSigner signs with activeKid, or the lowest kid when activeKid is empty.
func NewKeySetSigner(keys map[string]*rsa.PrivateKey, activeKid string) (*KeySetSigner, error) {
	s := &KeySetSigner{keys: map[string]rsaKey{}}
	for kid, key := range keys {
		if kid == "" || key == nil {
			continue
		}
		s.keys[kid] = rsaKey{kid: kid, key: key}
	}
	if len(s.keys) == 0 {
		return nil, errors.New("no keys provided")
	}
	if activeKid == "" {
		activeKid = s.kids()[0]
	}
	if _, ok := s.keys[activeKid]; !ok {
		return nil, errors.New("active kid not found")
	}
	s.active = activeKid
	return s, nil
}

func (s *KeySetSigner) ActiveKid() string {
	return s.active
}

func (s *KeySetSigner) Sign(claims auth.Claims) (string, error) {
	k := s.keys[s.active]
	return auth.SignRS256(claims, k.key, k.kid)
}

func (s *KeySetSigner) Verify(token string) (*auth.Claims, error) {
	kid, err := auth.KeyID(token)
	if err != nil || kid == "" {
		return nil, auth.ErrInvalidToken
	}
	k, ok := s.keys[kid]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return auth.VerifyRS256(token, &k.key.PublicKey)
}

func (s *KeySetSigner) JWKS() []map[string]any {
	out := make([]map[string]any, 0, len(s.keys))
	for _, kid := range s.kids() {
		out = append(out, auth.PublicJWK(&s.keys[kid].key.PublicKey, kid))
	}
	return out
}

func (s *KeySetSigner) kids() []string {
	kids := make([]string, 0, len(s.keys))
	for kid := range s.keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	return kids
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
	}
	return nil, errors.New("unsupported private key")
}

func keyIDFromPublicKey(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(pub.N.Bytes())
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}

func splitPEMBlocks(raw string) []string {
	var blocks []string
	var current strings.Builder
	inBlock := false
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(line, "-----BEGIN ") {
			inBlock = true
			current.Reset()
		}
		if inBlock {
			current.WriteString(line)
			current.WriteString("\n")
		}
		if strings.HasPrefix(line, "-----END ") && inBlock {
			inBlock = false
			blocks = append(blocks, current.String())
		}
	}
	return blocks
}
