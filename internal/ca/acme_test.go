package ca

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certfsm/internal/certificate/models"
)

type stubACMEClient struct {
	registered         bool
	providerConfigured bool
	obtained           []string
	revoked            int
	certPEM            []byte
	obtainErr          error
}

func (s *stubACMEClient) Register(registration.RegisterOptions) (*registration.Resource, error) {
	s.registered = true
	return &registration.Resource{}, nil
}

func (s *stubACMEClient) SetHTTP01Provider(challenge.Provider) error {
	s.providerConfigured = true
	return nil
}

func (s *stubACMEClient) Obtain(req certificate.ObtainRequest) (*certificate.Resource, error) {
	if s.obtainErr != nil {
		return nil, s.obtainErr
	}
	s.obtained = append(s.obtained, req.Domains...)
	return &certificate.Resource{Certificate: s.certPEM}, nil
}

func (s *stubACMEClient) Revoke([]byte) error {
	s.revoked++
	return nil
}

func selfSignedPEM(t *testing.T, domain string, notAfter time.Time) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	// x509.CreateCertificate ignores tmpl.Issuer; the issuer comes from the
	// parent's Subject, so sign with a parent named "stub-acme".
	issuerTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "stub-acme"},
		NotBefore:             notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(4242),
		Subject:      pkix.Name{CommonName: domain},
		DNSNames:     []string{domain},
		NotBefore:    notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuerTmpl, &key.PublicKey, issuerKey)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func newStubbedACME(t *testing.T, stub *stubACMEClient) *ACME {
	t.Helper()
	authority, err := NewACME("admin@example.com", WithDirectoryURL("https://acme.test/directory"))
	require.NoError(t, err)
	authority.clientFactory = func(*lego.Config) (acmeClient, error) { return stub, nil }
	return authority
}

func TestNewACMERequiresEmail(t *testing.T) {
	_, err := NewACME("  ")
	assert.Error(t, err)
}

func TestACMEIssueParsesLeafCertificate(t *testing.T) {
	notAfter := time.Date(2026, 11, 23, 0, 0, 0, 0, time.UTC)
	stub := &stubACMEClient{certPEM: selfSignedPEM(t, "example.com", notAfter)}
	authority := newStubbedACME(t, stub)

	ref, err := authority.Issue(context.Background(), "example.com", IssueOptions{})
	require.NoError(t, err)

	assert.True(t, stub.registered)
	assert.True(t, stub.providerConfigured)
	assert.Equal(t, []string{"example.com"}, stub.obtained)
	assert.Equal(t, "4242", ref.SerialNumber)
	assert.Equal(t, "stub-acme", ref.Issuer)
	assert.True(t, ref.NotAfter.Equal(notAfter))
}

func TestACMERegistersOnlyOnce(t *testing.T) {
	notAfter := time.Now().Add(90 * 24 * time.Hour)
	stub := &stubACMEClient{certPEM: selfSignedPEM(t, "example.com", notAfter)}
	authority := newStubbedACME(t, stub)
	ctx := context.Background()

	ref, err := authority.Issue(ctx, "example.com", IssueOptions{})
	require.NoError(t, err)
	_, err = authority.Renew(ctx, "example.com", ref)
	require.NoError(t, err)

	assert.Len(t, stub.obtained, 2)
	assert.True(t, stub.registered)
}

func TestACMERevokeRequiresHeldBundle(t *testing.T) {
	notAfter := time.Now().Add(90 * 24 * time.Hour)
	stub := &stubACMEClient{certPEM: selfSignedPEM(t, "example.com", notAfter)}
	authority := newStubbedACME(t, stub)
	ctx := context.Background()

	ref, err := authority.Issue(ctx, "example.com", IssueOptions{})
	require.NoError(t, err)

	require.NoError(t, authority.Revoke(ctx, "example.com", ref))
	assert.Equal(t, 1, stub.revoked)

	// Bundle is dropped after revocation.
	assert.Error(t, authority.Revoke(ctx, "example.com", ref))
}

func TestACMETimeoutMapsToPending(t *testing.T) {
	stub := &stubACMEClient{obtainErr: context.DeadlineExceeded}
	authority := newStubbedACME(t, stub)

	_, err := authority.Issue(context.Background(), "example.com", IssueOptions{})
	assert.ErrorIs(t, err, ErrPending)
}

func TestACMECheckStatusDerivesFromRef(t *testing.T) {
	authority := newStubbedACME(t, &stubACMEClient{})
	ctx := context.Background()

	report, err := authority.CheckStatus(ctx, "example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, report.Status)

	expired := testRefWithNotAfter(time.Now().Add(-time.Hour))
	report, err = authority.CheckStatus(ctx, "example.com", &expired)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, report.Status)

	soon := testRefWithNotAfter(time.Now().Add(10 * 24 * time.Hour))
	report, err = authority.CheckStatus(ctx, "example.com", &soon)
	require.NoError(t, err)
	assert.Equal(t, StatusExpiringSoon, report.Status)

	healthy := testRefWithNotAfter(time.Now().Add(80 * 24 * time.Hour))
	report, err = authority.CheckStatus(ctx, "example.com", &healthy)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, report.Status)
}

func testRefWithNotAfter(notAfter time.Time) models.CertificateRef {
	return models.CertificateRef{
		Issuer:       "stub-acme",
		SerialNumber: "4242",
		NotBefore:    notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
}
