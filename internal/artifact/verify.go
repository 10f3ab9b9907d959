package artifact

import (
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
)

// Verifier checks detached OpenPGP signatures against an operator-supplied
// keyring. Without a keyring, signature checks are disabled and downloads
// are accepted on their content checks alone.
type Verifier struct {
	keyringPath string
}

// NewVerifier creates a verifier that reads the keyring at keyringPath.
func NewVerifier(keyringPath string) *Verifier {
	return &Verifier{keyringPath: keyringPath}
}

// Enabled reports whether a keyring is installed.
func (v *Verifier) Enabled() bool {
	if v == nil || v.keyringPath == "" {
		return false
	}
	info, err := os.Stat(v.keyringPath)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// VerifySignature verifies filePath against the detached signature at
// signaturePath. Armored and binary signatures are both accepted.
func (v *Verifier) VerifySignature(filePath, signaturePath string) error {
	keyring, err := v.loadKeyring()
	if err != nil {
		return fmt.Errorf("load keyring: %w", err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	sigFile, err := os.Open(signaturePath)
	if err != nil {
		return fmt.Errorf("open signature: %w", err)
	}
	defer sigFile.Close()

	// Verify signature (try armored first)
	_, err = openpgp.CheckArmoredDetachedSignature(keyring, file, sigFile, nil)
	if err != nil {
		// Try non-armored signature
		if _, serr := file.Seek(0, io.SeekStart); serr != nil {
			return serr
		}
		if _, serr := sigFile.Seek(0, io.SeekStart); serr != nil {
			return serr
		}
		_, err = openpgp.CheckDetachedSignature(keyring, file, sigFile, nil)
	}
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}

	return nil
}

// loadKeyring loads the operator keyring
func (v *Verifier) loadKeyring() (openpgp.EntityList, error) {
	keyringFile, err := os.Open(v.keyringPath)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer keyringFile.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyringFile)
	if err != nil {
		// Try reading as non-armored keyring
		if _, serr := keyringFile.Seek(0, io.SeekStart); serr != nil {
			return nil, serr
		}
		keyring, err = openpgp.ReadKeyRing(keyringFile)
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}

	return keyring, nil
}
