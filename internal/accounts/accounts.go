package accounts

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"utility-balance-alerts/internal/config"
	"utility-balance-alerts/internal/model"
)

type fileFormat struct {
	Accounts []model.Account `yaml:"accounts"`
}

// LoadFile reads a YAML accounts file.
func LoadFile(path string) ([]model.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file %s: %w", path, err)
	}

	list, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("accounts file %s: %w", path, err)
	}
	return list, nil
}

// Parse decodes YAML account data.
func Parse(data []byte) ([]model.Account, error) {
	var parsed fileFormat
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}
	for i, account := range parsed.Accounts {
		if strings.TrimSpace(account.Number) == "" {
			return nil, fmt.Errorf("accounts[%d]: missing number", i)
		}
	}
	return parsed.Accounts, nil
}

// Resolve merges inline config accounts with the optional accounts file.
// Later entries with an already seen number are dropped.
func Resolve(cfg *config.Config) ([]model.Account, error) {
	var all []model.Account
	for _, account := range cfg.Accounts {
		all = append(all, model.Account{Number: strings.TrimSpace(account.Number), Name: account.Name})
	}
	if cfg.AccountsFile != "" {
		fromFile, err := LoadFile(cfg.AccountsFile)
		if err != nil {
			return nil, err
		}
		all = append(all, fromFile...)
	}
	return Dedup(all), nil
}

// Dedup keeps the first occurrence of each account number.
func Dedup(list []model.Account) []model.Account {
	seen := make(map[string]struct{}, len(list))
	out := make([]model.Account, 0, len(list))
	for _, account := range list {
		if _, ok := seen[account.Number]; ok {
			continue
		}
		seen[account.Number] = struct{}{}
		out = append(out, account)
	}
	return out
}
