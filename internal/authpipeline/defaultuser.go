package authpipeline

import (
	"fmt"

	"github.com/webssh-gateway/backend/internal/crypto"
)

// DefaultUserFromStoredFields rebuilds a Credential from the persisted,
// encrypted form of the configured fallback user. passwordEnc/
// privateKeyEnc/passphraseEnc are hex-encoded AES-256-GCM ciphertext
// produced by crypto.Encrypt (empty string means that field wasn't set);
// username and methodHint are stored in the clear alongside them. Returns
// an error if any non-empty ciphertext fails to decrypt, rather than
// silently falling back to an empty credential.
func DefaultUserFromStoredFields(username, passwordEnc, privateKeyEnc, passphraseEnc string, methodHint Method) (*Credential, error) {
	cred := &Credential{Username: username, MethodHint: methodHint}

	if passwordEnc != "" {
		pw, err := crypto.Decrypt(passwordEnc)
		if err != nil {
			return nil, fmt.Errorf("authpipeline: decrypt default user password: %w", err)
		}
		cred.Password = pw
	}
	if privateKeyEnc != "" {
		pk, err := crypto.Decrypt(privateKeyEnc)
		if err != nil {
			return nil, fmt.Errorf("authpipeline: decrypt default user private key: %w", err)
		}
		cred.PrivateKey = []byte(pk)
	}
	if passphraseEnc != "" {
		pp, err := crypto.Decrypt(passphraseEnc)
		if err != nil {
			return nil, fmt.Errorf("authpipeline: decrypt default user passphrase: %w", err)
		}
		cred.Passphrase = pp
	}

	return cred, nil
}
