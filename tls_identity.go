package mqttc

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"
)

// ErrCertificateRevoked is returned when the broker's certificate has
// been revoked according to its issuer's OCSP responder.
var ErrCertificateRevoked = errors.New("broker certificate revoked")

// ErrNoOCSPResponder is returned when the broker's certificate carries
// no OCSP responder URL and none was configured explicitly.
var ErrNoOCSPResponder = errors.New("no OCSP responder available")

// OCSPVerifier checks a broker's leaf certificate against its
// issuer's OCSP responder, for deployments that need revocation
// checking beyond what the TLS handshake alone provides.
type OCSPVerifier struct {
	// HTTPClient is used to query the OCSP responder. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// ResponderURL overrides the OCSP responder URL embedded in the
	// certificate, for brokers behind an OCSP proxy.
	ResponderURL string

	// Timeout bounds the OCSP responder round trip. Zero means no
	// explicit timeout beyond the context passed to Verify.
	Timeout time.Duration
}

// NewOCSPVerifier creates a verifier using sane defaults.
func NewOCSPVerifier() *OCSPVerifier {
	return &OCSPVerifier{
		HTTPClient: http.DefaultClient,
		Timeout:    10 * time.Second,
	}
}

// Verify checks the broker's leaf certificate (state.PeerCertificates[0])
// against the issuer certificate that follows it in the chain. Returns
// ErrCertificateRevoked if the responder reports Revoked and nil for
// any other status it reports (Good or Unknown). A failed query or an
// unparsable response is returned as an error, and ErrNoOCSPResponder
// when the chain has no issuer certificate or no responder URL is known.
func (v *OCSPVerifier) Verify(ctx context.Context, state *tls.ConnectionState) error {
	if state == nil || len(state.PeerCertificates) < 2 {
		return ErrNoOCSPResponder
	}

	leaf := state.PeerCertificates[0]
	issuer := state.PeerCertificates[1]

	responderURL := v.ResponderURL
	if responderURL == "" {
		if len(leaf.OCSPServer) == 0 {
			return ErrNoOCSPResponder
		}
		responderURL = leaf.OCSPServer[0]
	}

	reqBytes, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return err
	}

	client := v.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, responderURL, bytes.NewReader(reqBytes))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	ocspResp, err := ocsp.ParseResponse(respBytes, issuer)
	if err != nil {
		return err
	}

	if ocspResp.Status == ocsp.Revoked {
		return ErrCertificateRevoked
	}

	return nil
}

// VerifyConnection adapts Verify to tls.Config.VerifyConnection.
func (v *OCSPVerifier) VerifyConnection(state tls.ConnectionState) error {
	return v.Verify(context.Background(), &state)
}
