package hdwallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// Deriver derives per-user deposit addresses and signing keys from a
// single BIP-39 mnemonic along the standard EVM path m/44'/60'/0'/0/i.
// Derivation is deterministic: the same index always yields the same
// keypair, across restarts. The extended account key is immutable after
// construction, so Derive is safe for concurrent use.
type Deriver struct {
	account *hdkeychain.ExtendedKey // m/44'/60'/0'/0
}

// New builds a Deriver from the master mnemonic. An absent or malformed
// mnemonic is a configuration error; callers must treat it as fatal.
func New(mnemonic string) (*Deriver, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid HD mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to build master key: %w", err)
	}

	// m/44'/60'/0'/0
	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
	}

	key := master
	for _, child := range path {
		key, err = key.Derive(child)
		if err != nil {
			return nil, fmt.Errorf("failed to derive account key: %w", err)
		}
	}

	return &Deriver{account: key}, nil
}

// Address derives only the deposit address for index. No private key
// material is retained.
func (d *Deriver) Address(index uint32) (string, error) {
	key, err := d.Derive(index)
	if err != nil {
		return "", err
	}
	defer key.Zero()

	return key.Address().Hex(), nil
}

// Derive materializes the signing key for index. The caller must call
// Zero as soon as the signature has been produced.
func (d *Deriver) Derive(index uint32) (*SigningKey, error) {
	child, err := d.account.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive index %d: %w", index, err)
	}

	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to extract private key: %w", err)
	}

	return &SigningKey{priv: priv}, nil
}

// SigningKey holds a derived secp256k1 private key for the minimal
// duration of signing. Never persisted, never logged.
type SigningKey struct {
	priv *btcec.PrivateKey
}

// Address returns the EVM address controlled by this key.
func (k *SigningKey) Address() common.Address {
	return crypto.PubkeyToAddress(k.priv.ToECDSA().PublicKey)
}

// ECDSA exposes the key in the form go-ethereum's signer expects.
func (k *SigningKey) ECDSA() *ecdsa.PrivateKey {
	return k.priv.ToECDSA()
}

// Zero wipes the key material. Safe to call more than once.
func (k *SigningKey) Zero() {
	if k.priv != nil {
		k.priv.Zero()
		k.priv = nil
	}
}
