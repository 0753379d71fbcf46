package qmail

import (
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// ValidatePassphrase checks a master key and its confirmation.
func ValidatePassphrase(passphrase, confirmation string, minLength int) error {
	var problems []string
	if len([]rune(passphrase)) < minLength {
		problems = append(problems, fmt.Sprintf("Master Key must be at least %d characters.", minLength))
	}
	if passphrase != confirmation {
		problems = append(problems, "Keys do not match.")
	}
	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}

// SuggestPassphrase returns a random twelve word BIP-39 mnemonic to offer
// as a master key.
func SuggestPassphrase() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("suggest passphrase: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("suggest passphrase: %w", err)
	}
	return mnemonic, nil
}

// IsMnemonic reports whether passphrase is a valid BIP-39 mnemonic.
func IsMnemonic(passphrase string) bool {
	return bip39.IsMnemonicValid(strings.Join(strings.Fields(passphrase), " "))
}
