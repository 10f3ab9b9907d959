package artifact

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSigner generates a throwaway signing key.
func newSigner(t *testing.T, name string) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity(name, "test", name+"@example.com", &packet.Config{
		Algorithm: packet.PubKeyAlgoEdDSA,
	})
	require.NoError(t, err)
	return entity
}

// writeKeyring exports the public half of entities as an armored keyring.
func writeKeyring(t *testing.T, path string, entities ...*openpgp.Entity) {
	t.Helper()
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	for _, e := range entities {
		require.NoError(t, e.Serialize(w))
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// detachSign returns an armored detached signature of data.
func detachSign(t *testing.T, signer *openpgp.Entity, data []byte) []byte {
	t.Helper()
	var sig bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&sig, signer, bytes.NewReader(data), nil))
	return sig.Bytes()
}

func TestVerifierEnabled(t *testing.T) {
	dir := t.TempDir()
	keyring := filepath.Join(dir, "trusted.asc")

	assert.False(t, NewVerifier(keyring).Enabled(), "missing keyring")
	assert.False(t, NewVerifier("").Enabled(), "no path")

	require.NoError(t, os.WriteFile(keyring, nil, 0o644))
	assert.False(t, NewVerifier(keyring).Enabled(), "empty keyring")

	writeKeyring(t, keyring, newSigner(t, "operator"))
	assert.True(t, NewVerifier(keyring).Enabled())
}

func TestVerifySignature(t *testing.T) {
	dir := t.TempDir()
	trusted := newSigner(t, "operator")
	stranger := newSigner(t, "stranger")

	keyring := filepath.Join(dir, "trusted.asc")
	writeKeyring(t, keyring, trusted)

	payload := []byte("core archive bytes")
	file := filepath.Join(dir, "core.tar.gz")
	require.NoError(t, os.WriteFile(file, payload, 0o644))

	tests := []struct {
		name    string
		file    []byte
		sig     []byte
		wantErr bool
	}{
		{
			name: "valid_signature",
			file: payload,
			sig:  detachSign(t, trusted, payload),
		},
		{
			name:    "tampered_file",
			file:    []byte("core archive bytes, modified"),
			sig:     detachSign(t, trusted, payload),
			wantErr: true,
		},
		{
			name:    "untrusted_signer",
			file:    payload,
			sig:     detachSign(t, stranger, payload),
			wantErr: true,
		},
		{
			name:    "garbage_signature",
			file:    payload,
			sig:     []byte("not a signature"),
			wantErr: true,
		},
	}

	v := NewVerifier(keyring)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(file, tt.file, 0o644))
			sigPath := file + ".asc"
			require.NoError(t, os.WriteFile(sigPath, tt.sig, 0o644))

			err := v.VerifySignature(file, sigPath)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifySignatureMissingFiles(t *testing.T) {
	dir := t.TempDir()
	keyring := filepath.Join(dir, "trusted.asc")
	writeKeyring(t, keyring, newSigner(t, "operator"))

	err := NewVerifier(keyring).VerifySignature(filepath.Join(dir, "absent"), filepath.Join(dir, "absent.asc"))
	assert.Error(t, err)

	err = NewVerifier(filepath.Join(dir, "no-keyring.asc")).VerifySignature(keyring, keyring)
	assert.ErrorContains(t, err, "load keyring")
}
