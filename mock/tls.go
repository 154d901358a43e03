package mock

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// CertSetup has a throwaway CA and a server certificate signed by it. The
// server certificate is valid for the loopback addresses so it works with
// httptest servers.
type CertSetup struct {
	CaPEM                *bytes.Buffer
	ServerCert           tls.Certificate
	ServerCertPEM        *bytes.Buffer
	ServerCertPrivKeyPEM *bytes.Buffer
}

// CaToFile writes the CA cert to path/fileName unless the file exists and returns
// the full path.
func (cs CertSetup) CaToFile(path, fileName string) string {
	return writeOnce(path, fileName, cs.CaPEM)
}

// ServerCertToFile writes the server cert to path/fileName unless the file exists
// and returns the full path.
func (cs CertSetup) ServerCertToFile(path, fileName string) string {
	return writeOnce(path, fileName, cs.ServerCertPEM)
}

// ServerCertPrivKeyToFile writes the server key to path/fileName unless the file
// exists and returns the full path.
func (cs CertSetup) ServerCertPrivKeyToFile(path, fileName string) string {
	return writeOnce(path, fileName, cs.ServerCertPrivKeyPEM)
}

// ServerTLSConfig is the TLS config for a test server.
func (cs CertSetup) ServerTLSConfig() *tls.Config {
	return &tls.Config{Certificates: []tls.Certificate{cs.ServerCert}}
}

func writeOnce(path, fileName string, contents *bytes.Buffer) string {
	p := filepath.Join(path, fileName)
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(p, contents.Bytes(), 0644); err != nil {
			panic(err)
		}
	}
	return p
}

// NewCertSetup was adapted from https://gist.github.com/shaneutt/5e1995295cff6721c89a71d13a71c251
func NewCertSetup() (CertSetup, error) {
	ca := newX509("root", true)
	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return CertSetup{}, err
	}
	caBytes, err := x509.CreateCertificate(rand.Reader, &ca, &ca, &caKey.PublicKey, caKey)
	if err != nil {
		return CertSetup{}, err
	}
	cs := CertSetup{CaPEM: toPEM("CERTIFICATE", caBytes)}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return CertSetup{}, err
	}
	server := newX509("server", false)
	certBytes, err := x509.CreateCertificate(rand.Reader, &server, &ca, &key.PublicKey, caKey)
	if err != nil {
		return CertSetup{}, err
	}
	cs.ServerCertPEM = toPEM("CERTIFICATE", certBytes)
	cs.ServerCertPrivKeyPEM = toPEM("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))
	if cs.ServerCert, err = tls.X509KeyPair(cs.ServerCertPEM.Bytes(), cs.ServerCertPrivKeyPEM.Bytes()); err != nil {
		return CertSetup{}, err
	}
	return cs, nil
}

func toPEM(blockType string, der []byte) *bytes.Buffer {
	buf := new(bytes.Buffer)
	pem.Encode(buf, &pem.Block{Type: blockType, Bytes: der})
	return buf
}

// newX509 returns a new x509 cert with the passed common name. If isCA is true then a CA
// cert is generated, otherwise a non-CA cert.
func newX509(cn string, isCA bool) x509.Certificate {
	keyUsage := x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	if isCA {
		keyUsage |= x509.KeyUsageCertSign
	}
	return x509.Certificate{
		SerialNumber:          big.NewInt(2019),
		Subject:               pkix.Name{CommonName: cn},
		IsCA:                  isCA,
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		SubjectKeyId:          []byte{1, 2, 3, 4, 6},
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		KeyUsage:              keyUsage,
	}
}
