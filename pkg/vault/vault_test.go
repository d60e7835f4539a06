/*
Copyright 2025 Kunpeto.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vault_test

import (
	"encoding/base64"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kunpeto/driver-management-system-sub001/pkg/vault"
)

var _ = Describe("Vault", func() {
	rawKey := "0123456789abcdef0123456789abcdef" // 32 bytes

	Describe("New", func() {
		It("accepts a raw 32-byte key", func() {
			_, err := vault.New(rawKey)
			Expect(err).NotTo(HaveOccurred())
		})

		It("accepts a base64-encoded 32-byte key", func() {
			_, err := vault.New(base64.StdEncoding.EncodeToString([]byte(rawKey)))
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects short keys", func() {
			_, err := vault.New("too-short")
			Expect(err).To(MatchError(vault.ErrMisconfigured))
		})
	})

	Describe("NewProduction", func() {
		It("rejects an empty key", func() {
			_, err := vault.NewProduction("")
			Expect(err).To(MatchError(vault.ErrMisconfigured))
		})

		It("rejects the bundled development default", func() {
			_, err := vault.NewProduction(vault.DefaultDevKey)
			Expect(err).To(MatchError(vault.ErrMisconfigured))
		})

		It("accepts a real key", func() {
			_, err := vault.NewProduction(rawKey)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("round trip", func() {
		var v *vault.Vault

		BeforeEach(func() {
			var err error
			v, err = vault.New(rawKey)
			Expect(err).NotTo(HaveOccurred())
		})

		It("decrypts what it encrypted", func() {
			ct, err := v.EncryptString("refresh-token-secret")
			Expect(err).NotTo(HaveOccurred())
			Expect(ct).NotTo(ContainSubstring("refresh-token-secret"))

			pt, err := v.DecryptString(ct)
			Expect(err).NotTo(HaveOccurred())
			Expect(pt).To(Equal("refresh-token-secret"))
		})

		It("produces distinct ciphertexts for the same plaintext", func() {
			a, err := v.EncryptString("same")
			Expect(err).NotTo(HaveOccurred())
			b, err := v.EncryptString("same")
			Expect(err).NotTo(HaveOccurred())
			Expect(a).NotTo(Equal(b))
		})

		It("returns ErrInconsistent for tampered ciphertext", func() {
			ct, err := v.EncryptString("secret")
			Expect(err).NotTo(HaveOccurred())
			tampered := strings.Map(func(r rune) rune {
				if r == 'A' {
					return 'B'
				}
				return 'A'
			}, ct)
			_, err = v.DecryptString(tampered)
			Expect(err).To(MatchError(vault.ErrInconsistent))
		})

		It("returns ErrInconsistent under a different key", func() {
			other, err := vault.New("fedcba9876543210fedcba9876543210")
			Expect(err).NotTo(HaveOccurred())

			ct, err := v.EncryptString("secret")
			Expect(err).NotTo(HaveOccurred())
			_, err = other.DecryptString(ct)
			Expect(err).To(MatchError(vault.ErrInconsistent))
		})
	})
})
