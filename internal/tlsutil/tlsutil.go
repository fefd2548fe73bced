// Package tlsutil loads and builds the certificates the daemon serves with
// and turns the TLS settings in config into a *tls.Config.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"os"
	"strings"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/jsdraven/HashMiner_GoLang/internal/config"
)

// SelfSignedValidity is how long a generated certificate stays valid.
const SelfSignedValidity = 90 * 24 * time.Hour

// OpenSSL spellings accepted alongside Go's constant names.
var opensslNames = map[string]string{
	"ECDHE-ECDSA-AES128-GCM-SHA256": "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
	"ECDHE-RSA-AES128-GCM-SHA256":   "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
	"ECDHE-ECDSA-AES256-GCM-SHA384": "TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384",
	"ECDHE-RSA-AES256-GCM-SHA384":   "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384",
	"ECDHE-ECDSA-CHACHA20-POLY1305": "TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256",
	"ECDHE-RSA-CHACHA20-POLY1305":   "TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256",
}

// ResolveTLS12Suites maps suite names to IDs. Only suites Go considers secure
// are accepted; unknown names are skipped. No names means Go's defaults.
func ResolveTLS12Suites(names []string) []uint16 {
	if len(names) == 0 {
		return nil
	}
	secure := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		secure[s.Name] = s.ID
	}
	// legacy Go aliases without the _SHA256 suffix
	secure["TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305"] = tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256
	secure["TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305"] = tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256

	var out []uint16
	for _, n := range names {
		key := strings.ToUpper(strings.TrimSpace(n))
		if alias, ok := opensslNames[key]; ok {
			key = alias
		}
		if id, ok := secure[key]; ok {
			out = append(out, id)
		}
	}
	return out
}

// ServerConfig applies the minimum version and, for TLS 1.2, the cipher
// suites from cfg to base (a fresh config when base is nil).
func ServerConfig(cfg *config.Config, base *tls.Config) *tls.Config {
	if base == nil {
		base = &tls.Config{}
	}
	base.MinVersion = cfg.TLSMinVersion
	if base.MinVersion == 0 {
		base.MinVersion = tls.VersionTLS13
	}
	if base.MinVersion == tls.VersionTLS12 {
		if suites := ResolveTLS12Suites(cfg.TLS12CipherSuites); len(suites) > 0 {
			base.CipherSuites = suites
		}
	}
	return base
}

// LoadPFX reads a PKCS#12 bundle (leaf, key and optional chain).
func LoadPFX(path, password string) (tls.Certificate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsutil: read pfx: %w", err)
	}
	key, leaf, chain, err := pkcs12.DecodeChain(b, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsutil: decode pfx: %w", err)
	}

	der := make([][]byte, 0, 1+len(chain))
	der = append(der, leaf.Raw)
	for _, c := range chain {
		der = append(der, c.Raw)
	}
	return tls.Certificate{Certificate: der, PrivateKey: key, Leaf: leaf}, nil
}

// GenerateSelfSigned makes an in-memory ECDSA P-256 certificate for
// localhost, the loopback addresses and the machine hostname.
func GenerateSelfSigned() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return tls.Certificate{}, err
	}

	cn := "localhost"
	dns := []string{"localhost"}
	if host, err := os.Hostname(); err == nil && host != "" && host != "localhost" {
		cn = host
		dns = append(dns, host)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"HashMiner"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(SelfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:              dns,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}

// Fingerprint is the SHA-256 of the leaf certificate, hex encoded.
func Fingerprint(c tls.Certificate) string {
	if len(c.Certificate) == 0 {
		return ""
	}
	sum := sha256.Sum256(c.Certificate[0])
	return hex.EncodeToString(sum[:])
}
