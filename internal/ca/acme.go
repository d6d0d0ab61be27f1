package ca

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"certfsm/internal/certificate/models"
)

// ACMEOption configures the ACME authority.
type ACMEOption func(*acmeConfig)

// WithDirectoryURL overrides the ACME directory (defaults to Let's Encrypt
// production).
func WithDirectoryURL(url string) ACMEOption {
	return func(cfg *acmeConfig) { cfg.directoryURL = strings.TrimSpace(url) }
}

// WithHTTP01Address selects the bind address for the HTTP-01 challenge server.
func WithHTTP01Address(addr string) ACMEOption {
	return func(cfg *acmeConfig) { cfg.http01Addr = strings.TrimSpace(addr) }
}

type acmeConfig struct {
	email        string
	directoryURL string
	http01Addr   string
}

// ACME implements the Authority port against a real ACME endpoint via lego.
// One ACME account is registered lazily on first use and reused afterwards.
type ACME struct {
	cfg             acmeConfig
	clientFactory   func(*lego.Config) (acmeClient, error)
	accountKeyMaker func() (crypto.PrivateKey, error)

	mu     sync.Mutex
	client acmeClient
	// bundles keeps the PEM bundle per domain so revocation can present the
	// certificate body the ACME server expects.
	bundles map[string][]byte
}

// NewACME constructs an ACME-backed authority for the given account email.
func NewACME(email string, opts ...ACMEOption) (*ACME, error) {
	cfg := acmeConfig{
		email:        strings.TrimSpace(email),
		directoryURL: lego.LEDirectoryProduction,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.email == "" {
		return nil, errors.New("acme account email is required")
	}

	return &ACME{
		cfg:           cfg,
		clientFactory: defaultClientFactory,
		accountKeyMaker: func() (crypto.PrivateKey, error) {
			return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		},
		bundles: make(map[string][]byte),
	}, nil
}

func (a *ACME) Issue(ctx context.Context, domain string, opts IssueOptions) (models.CertificateRef, error) {
	// ACME validity is fixed by the CA; IssueOptions.ValidityDays is advisory
	// and ignored here.
	return a.obtain(ctx, domain)
}

func (a *ACME) Renew(ctx context.Context, domain string, current models.CertificateRef) (models.CertificateRef, error) {
	// ACME renewal is a fresh order for the same identifiers.
	return a.obtain(ctx, domain)
}

func (a *ACME) Revoke(ctx context.Context, domain string, current models.CertificateRef) error {
	client, err := a.ensureClient(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	bundle, ok := a.bundles[domain]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("no certificate bundle held for %s", domain)
	}

	if err := client.Revoke(bundle); err != nil {
		return classifyACMEErr("revoke certificate", err)
	}

	a.mu.Lock()
	delete(a.bundles, domain)
	a.mu.Unlock()
	return nil
}

func (a *ACME) CheckStatus(ctx context.Context, domain string, current *models.CertificateRef) (StatusReport, error) {
	// ACME has no status query; derive the report from the ref the registry
	// holds, the same window the mock uses.
	if current == nil {
		return StatusReport{Status: StatusNotFound}, nil
	}
	notAfter := current.NotAfter
	now := time.Now()
	switch {
	case current.Expired(now):
		return StatusReport{Status: StatusExpired, NotAfter: &notAfter}, nil
	case current.ExpiresWithin(now, expiringSoonWindow):
		return StatusReport{Status: StatusExpiringSoon, NotAfter: &notAfter}, nil
	default:
		return StatusReport{Status: StatusValid, NotAfter: &notAfter}, nil
	}
}

func (a *ACME) obtain(ctx context.Context, domain string) (models.CertificateRef, error) {
	client, err := a.ensureClient(ctx)
	if err != nil {
		return models.CertificateRef{}, err
	}

	if err := ctx.Err(); err != nil {
		return models.CertificateRef{}, fmt.Errorf("%w: %w", ErrPending, err)
	}

	res, err := client.Obtain(certificate.ObtainRequest{
		Domains: []string{domain},
		Bundle:  true,
	})
	if err != nil {
		return models.CertificateRef{}, classifyACMEErr("obtain certificate", err)
	}
	if res == nil || len(res.Certificate) == 0 {
		return models.CertificateRef{}, errors.New("empty certificate payload from acme server")
	}

	certs, err := certcrypto.ParsePEMBundle(res.Certificate)
	if err != nil || len(certs) == 0 {
		return models.CertificateRef{}, fmt.Errorf("parse certificate bundle: %w", err)
	}
	leaf := certs[0]

	a.mu.Lock()
	a.bundles[domain] = res.Certificate
	a.mu.Unlock()

	return models.CertificateRef{
		Issuer:       leaf.Issuer.CommonName,
		SerialNumber: leaf.SerialNumber.String(),
		NotBefore:    leaf.NotBefore,
		NotAfter:     leaf.NotAfter,
	}, nil
}

func (a *ACME) ensureClient(ctx context.Context) (acmeClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}

	key, err := a.accountKeyMaker()
	if err != nil {
		return nil, fmt.Errorf("generate account key: %w", err)
	}
	user := &accountUser{email: a.cfg.email, key: key}

	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = a.cfg.directoryURL

	client, err := a.clientFactory(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("create acme client: %w", err)
	}

	host, port := splitHTTP01Addr(a.cfg.http01Addr)
	if err := client.SetHTTP01Provider(http01.NewProviderServer(host, port)); err != nil {
		return nil, fmt.Errorf("configure http-01 provider: %w", err)
	}

	reg, err := client.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, classifyACMEErr("register account", err)
	}
	user.registration = reg

	a.client = client
	return client, nil
}

// classifyACMEErr maps transport-level timeouts to ErrPending so the engine
// leaves the domain untouched; everything else is a definitive failure.
func classifyACMEErr(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %w", ErrPending, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func splitHTTP01Addr(addr string) (host, port string) {
	if addr == "" {
		return "", "80"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", "80"
	}
	if port == "" {
		port = "80"
	}
	return host, port
}

type acmeClient interface {
	Register(options registration.RegisterOptions) (*registration.Resource, error)
	SetHTTP01Provider(provider challenge.Provider) error
	Obtain(request certificate.ObtainRequest) (*certificate.Resource, error)
	Revoke(cert []byte) error
}

func defaultClientFactory(cfg *lego.Config) (acmeClient, error) {
	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &legoClientAdapter{client: client}, nil
}

type legoClientAdapter struct {
	client *lego.Client
}

func (l *legoClientAdapter) Register(options registration.RegisterOptions) (*registration.Resource, error) {
	return l.client.Registration.Register(options)
}

func (l *legoClientAdapter) SetHTTP01Provider(provider challenge.Provider) error {
	return l.client.Challenge.SetHTTP01Provider(provider)
}

func (l *legoClientAdapter) Obtain(request certificate.ObtainRequest) (*certificate.Resource, error) {
	return l.client.Certificate.Obtain(request)
}

func (l *legoClientAdapter) Revoke(cert []byte) error {
	return l.client.Certificate.Revoke(cert)
}

type accountUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *accountUser) GetEmail() string                        { return u.email }
func (u *accountUser) GetRegistration() *registration.Resource { return u.registration }
func (u *accountUser) GetPrivateKey() crypto.PrivateKey        { return u.key }
