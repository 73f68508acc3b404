package workspace

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// keyMaterial is the workspace wallet identity consumed by the XMTP
// helper. Generated once; the file must stay out of version control.
type keyMaterial struct {
	WalletKey string `json:"wallet_key"`
	DBKey     string `json:"db_key"`
}

// EnsureKeys generates keys.json on first run. Existing material is
// never touched or rotated here.
func EnsureKeys(path string) (created bool, err error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("probe keys file: %w", err)
	}

	km := keyMaterial{
		WalletKey: randomHex(32),
		DBKey:     randomHex(32),
	}
	data, err := json.MarshalIndent(km, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode keys: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, fmt.Errorf("write keys: %w", err)
	}
	return true, nil
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
