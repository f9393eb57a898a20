// Copyright 2022 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package emit

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/dlorenc/pkgr/pkg/pkgrerr"
	"github.com/dlorenc/pkgr/pkg/recipe"
)

// Signer detached-signs rpm and deb artifacts with a single configured
// GPG key, per spec.md §4.7 ("rpm --addsign / dpkg-sig equivalent").
// The private key is parsed (and decrypted with Passphrase if encrypted)
// once, the first time Sign is called, since both rpm and deb targets in a single
// run share the same key material (spec.md §5's shared-resources note).
type Signer struct {
	// KeyPath is the path to an ASCII-armored private key.
	KeyPath string
	// Name is the configured signing identity (gpg_name); Sign does not read it.
	Name string
	// Passphrase unlocks KeyPath's private key, if it's encrypted.
	Passphrase string

	once    sync.Once
	entity  *openpgp.Entity
	loadErr error
}

func (s *Signer) load() {
	s.once.Do(func() {
		f, err := os.Open(s.KeyPath)
		if err != nil {
			s.loadErr = fmt.Errorf("opening signing key %q: %w", s.KeyPath, err)
			return
		}
		defer f.Close()

		block, err := armor.Decode(f)
		if err != nil {
			s.loadErr = fmt.Errorf("decoding armored signing key: %w", err)
			return
		}

		entity, err := openpgp.ReadEntity(packet.NewReader(block.Body))
		if err != nil {
			s.loadErr = fmt.Errorf("reading signing key entity: %w", err)
			return
		}

		if entity.PrivateKey != nil && entity.PrivateKey.Encrypted {
			if err := entity.PrivateKey.Decrypt([]byte(s.Passphrase)); err != nil {
				s.loadErr = fmt.Errorf("decrypting signing key with configured passphrase: %w", err)
				return
			}
			for _, sk := range entity.Subkeys {
				if sk.PrivateKey != nil && sk.PrivateKey.Encrypted {
					_ = sk.PrivateKey.Decrypt([]byte(s.Passphrase))
				}
			}
		}

		s.entity = entity
	})
}

// Sign writes a detached ASCII-armored signature alongside path, named
// path+".asc" for rpm and path+".sig" for deb, matching the sidecar
// convention rpm --addsign / dpkg-sig leave behind.
func (s *Signer) Sign(path string, target recipe.Target) error {
	s.load()
	if s.loadErr != nil {
		return pkgrerr.New(pkgrerr.KindEmit, "loading signing key", s.loadErr)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return pkgrerr.New(pkgrerr.KindEmit, fmt.Sprintf("reading %q for signing", path), err)
	}

	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, s.entity, bytes.NewReader(data), nil); err != nil {
		return pkgrerr.New(pkgrerr.KindEmit, "generating detached signature", err)
	}

	ext := ".asc"
	if target == recipe.TargetDEB {
		ext = ".sig"
	}
	if err := os.WriteFile(path+ext, sig.Bytes(), 0o644); err != nil {
		return pkgrerr.New(pkgrerr.KindEmit, fmt.Sprintf("writing signature %q", path+ext), err)
	}
	return nil
}
