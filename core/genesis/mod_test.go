package genesis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/execution"
)

func TestLoad(t *testing.T) {
	dir, err := os.MkdirTemp(os.TempDir(), "txsim-genesis")
	require.NoError(t, err)

	defer os.RemoveAll(dir)

	err = os.WriteFile(filepath.Join(dir, "memo.so"), []byte("elf"), 0644)
	require.NoError(t, err)

	doc := `
accounts:
  - address: 11111111111111111111111111111112
    lamports: 1000
  - address: Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo
    owner: BPFLoader2111111111111111111111111111111111
    data_file: memo.so
    executable: true
    rent_exempt: true
  - address: 11111111111111111111111111111113
    lamports: 5
    data: AQID
    rent_epoch: 9
`

	path := filepath.Join(dir, "genesis.yml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	accounts, err := Load(path, execution.DefaultRent())
	require.NoError(t, err)
	require.Len(t, accounts, 3)

	acc := accounts[account.MustParse("11111111111111111111111111111112")]
	require.Equal(t, uint64(1000), acc.Lamports)
	require.Equal(t, account.SystemProgram, acc.Owner)

	acc = accounts[account.MemoV1]
	require.Equal(t, []byte("elf"), acc.Data)
	require.Equal(t, account.BPFLoader2, acc.Owner)
	require.True(t, acc.Executable)
	require.Equal(t, uint64(911760), acc.Lamports)

	acc = accounts[account.MustParse("11111111111111111111111111111113")]
	require.Equal(t, []byte{1, 2, 3}, acc.Data)
	require.Equal(t, uint64(9), acc.RentEpoch)

	_, err = Load(filepath.Join(dir, "unknown.yml"), execution.DefaultRent())
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read genesis")
}

func TestParse_Failures(t *testing.T) {
	rent := execution.DefaultRent()

	_, err := Parse([]byte("accounts: [{address: abc, foo: 1}]"), "", rent)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to decode genesis")

	_, err = Parse([]byte("accounts: [{address: 0OIl}]"), "", rent)
	require.Error(t, err)
	require.Contains(t, err.Error(), "entry 0: invalid address")

	_, err = Parse([]byte("accounts: [{address: 11111111111111111111111111111112, owner: 0}]"), "", rent)
	require.Error(t, err)
	require.Contains(t, err.Error(), "entry 0: invalid owner")

	_, err = Parse([]byte("accounts: [{address: 11111111111111111111111111111112, data: '!!'}]"), "", rent)
	require.Error(t, err)
	require.Contains(t, err.Error(), "entry 0: invalid data")

	_, err = Parse([]byte("accounts: [{address: 11111111111111111111111111111112, data: AQID, data_file: x}]"), "", rent)
	require.EqualError(t, err, "entry 0: data and data_file are exclusive")

	_, err = Parse([]byte("accounts: [{address: 11111111111111111111111111111112, data_file: missing.so}]"), os.TempDir(), rent)
	require.Error(t, err)
	require.Contains(t, err.Error(), "entry 0: failed to read data")

	_, err = Parse([]byte(`
accounts:
  - address: 11111111111111111111111111111112
  - address: 11111111111111111111111111111112
`), "", rent)
	require.Error(t, err)
	require.Contains(t, err.Error(), "entry 1: duplicate address")
}

func TestEncode(t *testing.T) {
	accounts := Accounts{
		account.Identity{2}: {Lamports: 5, Owner: account.BPFLoader2, Data: []byte{1, 2, 3}, Executable: true},
		account.Identity{1}: {Lamports: 7, Owner: account.SystemProgram},
	}

	raw, err := Encode(accounts)
	require.NoError(t, err)

	decoded, err := Parse(raw, "", execution.DefaultRent())
	require.NoError(t, err)
	require.Equal(t, accounts, decoded)

	require.Equal(t, []account.Identity{{1}, {2}}, accounts.Keys())
}

func TestAccounts_WithFaucet(t *testing.T) {
	accounts := Accounts{account.Identity{1}: {Lamports: 7, Data: []byte{1}}}
	faucet := account.Identity{9}

	funded := accounts.WithFaucet(faucet)
	require.Len(t, funded, 2)
	require.Equal(t, FaucetLamports, funded[faucet].Lamports)
	require.Len(t, accounts, 1)

	funded[account.Identity{1}].Data[0] = 2
	require.Equal(t, byte(1), accounts[account.Identity{1}].Data[0])
}
