// Package genesis defines the accounts a session holds before it loads
// anything from the cluster.
//
// The accounts are described by a YAML document:
//
//	accounts:
//	  - address: 4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T
//	    lamports: 1000000
//	  - address: Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo
//	    owner: BPFLoader2111111111111111111111111111111111
//	    data_file: programs/spl_memo-1.0.0.so
//	    executable: true
//	    rent_exempt: true
//
// The data of an account is either inlined in base64 or read from a file
// relative to the document. A rent exempt account receives the minimum
// balance for its data length.
//
// Documentation Last Review: 12.10.2026
package genesis

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"sort"

	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/execution"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// FaucetLamports is the balance of the faucet account of a session.
const FaucetLamports = uint64(1) << 48

// Entry is the description of a single account.
type Entry struct {
	Address    string `yaml:"address"`
	Lamports   uint64 `yaml:"lamports"`
	Owner      string `yaml:"owner,omitempty"`
	Data       string `yaml:"data,omitempty"`
	DataFile   string `yaml:"data_file,omitempty"`
	Executable bool   `yaml:"executable,omitempty"`
	RentEpoch  uint64 `yaml:"rent_epoch,omitempty"`
	RentExempt bool   `yaml:"rent_exempt,omitempty"`
}

// Document is the root of a genesis file.
type Document struct {
	Accounts []Entry `yaml:"accounts"`
}

// Accounts is the set of accounts of a genesis.
type Accounts map[account.Identity]account.Account

// Load reads the genesis file at the path. The data files are resolved
// relative to the directory of the file.
func Load(path string, rent execution.Rent) (Accounts, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read genesis: %v", err)
	}

	return Parse(raw, filepath.Dir(path), rent)
}

// Parse decodes a genesis document. The data files are resolved relative to
// the directory.
func Parse(raw []byte, dir string, rent execution.Rent) (Accounts, error) {
	var doc Document

	err := yaml.UnmarshalStrict(raw, &doc)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode genesis: %v", err)
	}

	accounts := make(Accounts, len(doc.Accounts))

	for i, entry := range doc.Accounts {
		id, acc, err := entry.resolve(dir, rent)
		if err != nil {
			return nil, xerrors.Errorf("entry %d: %v", i, err)
		}

		_, found := accounts[id]
		if found {
			return nil, xerrors.Errorf("entry %d: duplicate address %v", i, id)
		}

		accounts[id] = acc
	}

	return accounts, nil
}

// Encode returns the YAML document of the accounts, sorted by identity. The
// data is inlined.
func Encode(accounts Accounts) ([]byte, error) {
	doc := Document{Accounts: make([]Entry, 0, len(accounts))}

	for _, id := range accounts.Keys() {
		acc := accounts[id]

		entry := Entry{
			Address:    id.String(),
			Lamports:   acc.Lamports,
			Executable: acc.Executable,
			RentEpoch:  acc.RentEpoch,
		}

		if acc.Owner != account.SystemProgram {
			entry.Owner = acc.Owner.String()
		}

		if len(acc.Data) > 0 {
			entry.Data = base64.StdEncoding.EncodeToString(acc.Data)
		}

		doc.Accounts = append(doc.Accounts, entry)
	}

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode genesis: %v", err)
	}

	return raw, nil
}

// Keys returns the identities of the accounts in ascending order.
func (a Accounts) Keys() []account.Identity {
	keys := make([]account.Identity, 0, len(a))
	for id := range a {
		keys = append(keys, id)
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Compare(keys[j]) < 0
	})

	return keys
}

// WithFaucet returns a copy of the accounts with the faucet funded.
func (a Accounts) WithFaucet(faucet account.Identity) Accounts {
	res := make(Accounts, len(a)+1)
	for id, acc := range a {
		res[id] = acc.Clone()
	}

	res[faucet] = account.Account{
		Lamports: FaucetLamports,
		Owner:    account.SystemProgram,
	}

	return res
}

func (e Entry) resolve(dir string, rent execution.Rent) (account.Identity, account.Account, error) {
	var acc account.Account

	id, err := account.ParseIdentity(e.Address)
	if err != nil {
		return id, acc, xerrors.Errorf("invalid address: %v", err)
	}

	acc.Owner = account.SystemProgram

	if e.Owner != "" {
		acc.Owner, err = account.ParseIdentity(e.Owner)
		if err != nil {
			return id, acc, xerrors.Errorf("invalid owner: %v", err)
		}
	}

	if e.Data != "" && e.DataFile != "" {
		return id, acc, xerrors.New("data and data_file are exclusive")
	}

	if e.Data != "" {
		acc.Data, err = base64.StdEncoding.DecodeString(e.Data)
		if err != nil {
			return id, acc, xerrors.Errorf("invalid data: %v", err)
		}
	}

	if e.DataFile != "" {
		path := e.DataFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}

		acc.Data, err = os.ReadFile(path)
		if err != nil {
			return id, acc, xerrors.Errorf("failed to read data: %v", err)
		}
	}

	acc.Lamports = e.Lamports
	acc.Executable = e.Executable
	acc.RentEpoch = e.RentEpoch

	if e.RentExempt {
		minimum := rent.MinimumBalance(len(acc.Data))
		if acc.Lamports < minimum {
			acc.Lamports = minimum
		}
	}

	return id, acc, nil
}
