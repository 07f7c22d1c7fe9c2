package keystore

import (
	"bytes"
	"crypto/ecdsa"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/entities"
)

const signatureLength = 65

// Account is a local signing identity. Public is the compressed secp256k1 public key.
type Account struct {
	privateKey *ecdsa.PrivateKey
	public     []byte
}

func NewAccount(privateKey *ecdsa.PrivateKey) *Account {
	return &Account{
		privateKey: privateKey,
		public:     crypto.CompressPubkey(&privateKey.PublicKey),
	}
}

func (a *Account) Public() []byte {
	public := make([]byte, len(a.public))
	copy(public, a.public)
	return public
}

// Sign signs the keccak256 digest of the message.
func (a *Account) Sign(message []byte) ([]byte, error) {
	signature, err := crypto.Sign(crypto.Keccak256(message), a.privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "signing message")
	}
	return signature, nil
}

// Verify checks that signature was produced over message by the owner of the compressed public key.
func Verify(public, message, signature []byte) bool {
	if len(signature) != signatureLength {
		return false
	}
	recovered, err := crypto.Ecrecover(crypto.Keccak256(message), signature)
	if err != nil {
		return false
	}
	expected, err := crypto.DecompressPubkey(public)
	if err != nil {
		return false
	}
	return bytes.Equal(recovered, crypto.FromECDSAPub(expected))
}

// Keyring holds the signing identities available to this node.
type Keyring struct {
	mutex    sync.RWMutex
	accounts []*Account
}

func NewKeyring() *Keyring {
	return &Keyring{}
}

// LoadHexKeys creates a keyring from hex encoded private keys. Empty entries are skipped.
func LoadHexKeys(hexKeys []string) (*Keyring, error) {
	kr := NewKeyring()
	for i, hexKey := range hexKeys {
		hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
		if hexKey == "" {
			continue
		}
		privateKey, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding private key [%d]", i)
		}
		kr.Add(NewAccount(privateKey))
	}
	return kr, nil
}

// Generate adds a fresh random identity and returns it.
func (kr *Keyring) Generate() (*Account, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generating key")
	}
	account := NewAccount(privateKey)
	kr.Add(account)
	return account, nil
}

func (kr *Keyring) Add(account *Account) {
	kr.mutex.Lock()
	defer kr.mutex.Unlock()
	kr.accounts = append(kr.accounts, account)
}

func (kr *Keyring) Accounts() []*Account {
	kr.mutex.RLock()
	defer kr.mutex.RUnlock()
	accounts := make([]*Account, len(kr.accounts))
	copy(accounts, kr.accounts)
	return accounts
}

// AnyAccount returns the first available identity.
func (kr *Keyring) AnyAccount() (entities.Signer, error) {
	kr.mutex.RLock()
	defer kr.mutex.RUnlock()
	if len(kr.accounts) == 0 {
		return nil, entities.ErrNoLocalIdentity
	}
	return kr.accounts[0], nil
}
