package accounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utility-balance-alerts/internal/config"
	"utility-balance-alerts/internal/model"
)

func TestParse(t *testing.T) {
	list, err := Parse([]byte(`
accounts:
  - number: "1001"
    name: Home
  - number: "1002"
`))
	require.NoError(t, err)
	assert.Equal(t, []model.Account{{Number: "1001", Name: "Home"}, {Number: "1002"}}, list)
	assert.Equal(t, "1002", list[1].DisplayName())

	_, err = Parse([]byte("accounts:\n  - name: nobody\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("accounts: [unterminated"))
	assert.Error(t, err)
}

func TestResolveMergesAndDedups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("accounts:\n  - number: \"1002\"\n    name: File\n  - number: \"1003\"\n"), 0o600))

	cfg := &config.Config{
		Accounts:     []config.AccountConfig{{Number: "1001", Name: "Home"}, {Number: " 1002 ", Name: "Inline"}},
		AccountsFile: path,
	}
	list, err := Resolve(cfg)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Inline", list[1].Name)
	assert.Equal(t, "1003", list[2].Number)
}

func TestResolveMissingFile(t *testing.T) {
	_, err := Resolve(&config.Config{AccountsFile: filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, err)
}
