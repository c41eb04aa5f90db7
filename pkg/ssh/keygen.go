package ssh

import (
	"os"
	"path/filepath"

	"github.com/charmbracelet/keygen"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// KeyPair is an SSH key pair written to disk.
type KeyPair struct {
	*keygen.KeyPair
	AbsolutePath string
}

// KeyGenOptions configures SSH key generation
type KeyGenOptions struct {
	KeyType    keygen.KeyType
	Passphrase string
}

func DefaultKeyGenOptions() KeyGenOptions {
	return KeyGenOptions{
		KeyType: keygen.Ed25519,
	}
}

// GenerateKeyPair creates a key pair and writes the private half to keyFile
// and the public half next to it.
func GenerateKeyPair(keyFile string, opts KeyGenOptions) (*KeyPair, error) {
	logrus.Debugf("generating SSH key pair (type: %v) at %q", opts.KeyType, keyFile)

	keyFile, err := filepath.Abs(keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "resolve key path")
	}
	if err := os.MkdirAll(filepath.Dir(keyFile), 0o700); err != nil {
		return nil, errors.Wrap(err, "create key directory")
	}

	keygenOpts := []keygen.Option{
		keygen.WithKeyType(opts.KeyType),
	}
	if opts.Passphrase != "" {
		keygenOpts = append(keygenOpts, keygen.WithPassphrase(opts.Passphrase))
	}

	kp, err := keygen.New(keyFile, keygenOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "generate ssh key pair")
	}
	if err := kp.WriteKeys(); err != nil {
		return nil, errors.Wrapf(err, "write ssh key pair to %q", keyFile)
	}

	return &KeyPair{
		KeyPair:      kp,
		AbsolutePath: keyFile,
	}, nil
}

func (kp *KeyPair) PublicKeyPath() string {
	return kp.AbsolutePath + ".pub"
}

func (kp *KeyPair) PrivateKeyPath() string {
	return kp.AbsolutePath
}

// Remove deletes both key files. Missing files are not an error.
func (kp *KeyPair) Remove() error {
	for _, f := range []string{kp.PrivateKeyPath(), kp.PublicKeyPath()} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove %q", f)
		}
	}
	return nil
}
