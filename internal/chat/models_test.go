package chat

import (
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Pao040883/bogdol-go-dev-sub000/internal/crypto"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/wire"
)

func TestPreviewTextPlaintext(t *testing.T) {
	preview := &wire.MessagePreview{Content: "bis morgen", IsEncrypted: false}
	require.Equal(t, "bis morgen", PreviewText(preview, nil))
}

func TestPreviewTextDecrypts(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	env, err := crypto.EncryptForRecipients("nur für dich", []*rsa.PublicKey{kp.Public})
	require.NoError(t, err)
	encoded, err := env.Encode()
	require.NoError(t, err)

	preview := &wire.MessagePreview{Content: encoded, IsEncrypted: true}
	require.Equal(t, "nur für dich", PreviewText(preview, kp))
}

func TestPreviewTextFailuresYieldPlaceholder(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	encrypted := &wire.MessagePreview{Content: "not an envelope", IsEncrypted: true}
	require.Equal(t, DecryptFailedPlaceholder, PreviewText(encrypted, kp))
	require.Equal(t, DecryptFailedPlaceholder, PreviewText(encrypted, nil))
	require.Equal(t, "", PreviewText(nil, kp))
}
