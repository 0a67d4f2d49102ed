package crypto

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/cortexproject/amconfig/pkg/definitions"
)

// EncryptionScope qualifies what a ciphertext is bound to. Receiver secure
// settings are global; future callers may scope to an org.
type EncryptionScope string

// WithoutScope is the scope used for receiver secure settings.
func WithoutScope() EncryptionScope { return "" }

// Crypto encrypts and decrypts secure receiver settings and extra
// configurations on the read/write boundaries of the configuration store.
// Plaintext secret values never cross this boundary outward.
type Crypto interface {
	Encrypt(ctx context.Context, payload []byte, scope EncryptionScope) ([]byte, error)
	Decrypt(ctx context.Context, payload []byte) ([]byte, error)

	// ProcessSecureSettings encrypts newly supplied secure settings in the
	// given receivers, leaving already-encrypted values intact.
	ProcessSecureSettings(ctx context.Context, orgID int64, receivers []*definitions.PostableApiReceiver) error

	// EncryptExtraConfigs and DecryptExtraConfigs convert the extra
	// configuration documents between their at-rest and in-memory forms.
	EncryptExtraConfigs(ctx context.Context, cfg *definitions.PostableUserConfig) error
	DecryptExtraConfigs(ctx context.Context, cfg *definitions.PostableUserConfig) error

	// DecryptedValue probes one secure setting of a receiver, returning the
	// plaintext. Callers must only use it to compute presence flags.
	DecryptedValue(ctx context.Context, receiver *definitions.ManagedReceiver, key string) (string, error)
}

const nonceLength = 24

// secretboxCrypto implements Crypto with nacl/secretbox. The key is derived
// from a configured secret; ciphertexts are nonce-prefixed and base64 encoded
// so they can live inside JSON documents.
type secretboxCrypto struct {
	key [32]byte
}

// New derives the encryption key from the given secret.
func New(secret string) Crypto {
	return &secretboxCrypto{key: sha256.Sum256([]byte(secret))}
}

func (c *secretboxCrypto) Encrypt(_ context.Context, payload []byte, _ EncryptionScope) ([]byte, error) {
	var nonce [nonceLength]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "cannot generate nonce")
	}
	sealed := secretbox.Seal(nonce[:], payload, &nonce, &c.key)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

func (c *secretboxCrypto) Decrypt(_ context.Context, payload []byte) ([]byte, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(raw, payload)
	if err != nil {
		return nil, errors.Wrap(err, "malformed ciphertext")
	}
	raw = raw[:n]
	if len(raw) < nonceLength {
		return nil, errors.New("malformed ciphertext: too short")
	}
	var nonce [nonceLength]byte
	copy(nonce[:], raw[:nonceLength])
	plain, ok := secretbox.Open(nil, raw[nonceLength:], &nonce, &c.key)
	if !ok {
		return nil, errors.New("cannot decrypt payload")
	}
	return plain, nil
}

// isEncrypted reports whether a stored secure setting already went through
// Encrypt. A value that decrypts cleanly is kept as-is; anything else is
// treated as newly supplied plaintext.
func (c *secretboxCrypto) isEncrypted(ctx context.Context, value string) bool {
	_, err := c.Decrypt(ctx, []byte(value))
	return err == nil
}

func (c *secretboxCrypto) ProcessSecureSettings(ctx context.Context, _ int64, receivers []*definitions.PostableApiReceiver) error {
	for _, recv := range receivers {
		for _, mr := range recv.ManagedReceivers {
			for k, v := range mr.SecureSettings {
				if v == "" || c.isEncrypted(ctx, v) {
					continue
				}
				enc, err := c.Encrypt(ctx, []byte(v), WithoutScope())
				if err != nil {
					return errors.Wrapf(err, "failed to encrypt secure setting %q of receiver %q", k, mr.Name)
				}
				mr.SecureSettings[k] = string(enc)
			}
		}
	}
	return nil
}

func (c *secretboxCrypto) EncryptExtraConfigs(ctx context.Context, cfg *definitions.PostableUserConfig) error {
	for i := range cfg.ExtraConfigs {
		ec := &cfg.ExtraConfigs[i]
		if ec.AlertmanagerConfig == "" || c.isEncrypted(ctx, ec.AlertmanagerConfig) {
			continue
		}
		enc, err := c.Encrypt(ctx, []byte(ec.AlertmanagerConfig), WithoutScope())
		if err != nil {
			return errors.Wrapf(err, "failed to encrypt extra configuration %q", ec.Identifier)
		}
		ec.AlertmanagerConfig = string(enc)
	}
	return nil
}

func (c *secretboxCrypto) DecryptExtraConfigs(ctx context.Context, cfg *definitions.PostableUserConfig) error {
	for i := range cfg.ExtraConfigs {
		ec := &cfg.ExtraConfigs[i]
		if ec.AlertmanagerConfig == "" || !c.isEncrypted(ctx, ec.AlertmanagerConfig) {
			continue
		}
		plain, err := c.Decrypt(ctx, []byte(ec.AlertmanagerConfig))
		if err != nil {
			return errors.Wrapf(err, "failed to decrypt extra configuration %q", ec.Identifier)
		}
		ec.AlertmanagerConfig = string(plain)
	}
	return nil
}

func (c *secretboxCrypto) DecryptedValue(ctx context.Context, receiver *definitions.ManagedReceiver, key string) (string, error) {
	value, ok := receiver.SecureSettings[key]
	if !ok || value == "" {
		return "", nil
	}
	plain, err := c.Decrypt(ctx, []byte(value))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
