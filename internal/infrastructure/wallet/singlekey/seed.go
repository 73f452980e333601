package singlekeywallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/go-bip39"
)

// m/86'/coin'/0'/0/0
const bip86Purpose = 86

// NewMnemonic returns a random 24 words mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// LoadOrCreateSeed reads the mnemonic stored at the given path, or generates
// and stores a new one if the file does not exist.
func LoadOrCreateSeed(path string) (string, error) {
	buf, err := os.ReadFile(path)
	if err == nil {
		mnemonic := strings.TrimSpace(string(buf))
		if !bip39.IsMnemonicValid(mnemonic) {
			return "", fmt.Errorf("invalid mnemonic in %s", path)
		}
		return mnemonic, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read wallet seed: %s", err)
	}

	mnemonic, err := NewMnemonic()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("failed to create wallet dir: %s", err)
	}
	if err := os.WriteFile(path, []byte(mnemonic+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to store wallet seed: %s", err)
	}
	log.Infof("generated new wallet seed, stored in %s", path)
	return mnemonic, nil
}

func isMnemonic(seed string) bool {
	return len(strings.Fields(seed)) > 1
}

func keyFromMnemonic(
	mnemonic string, network *chaincfg.Params,
) (*btcec.PrivateKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %s", err)
	}
	key, err := hdkeychain.NewMaster(seed, network)
	if err != nil {
		return nil, err
	}
	path := []uint32{
		bip86Purpose + hdkeychain.HardenedKeyStart,
		network.HDCoinType + hdkeychain.HardenedKeyStart,
		hdkeychain.HardenedKeyStart,
		0, 0,
	}
	for _, i := range path {
		if key, err = key.Derive(i); err != nil {
			return nil, err
		}
	}
	return key.ECPrivKey()
}
