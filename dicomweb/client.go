package dicomweb

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nvidia-clara/dicom-adapter/errors"
)

const defaultTransferSyntax = "1.2.840.10008.1.2.1" // ExplicitVRLittleEndian

// Client is an outbound DICOMweb (WADO-RS/QIDO-RS/STOW-RS) client
// against a single service root.
type Client struct {
	root   string
	auth   Auth
	client *http.Client
	logger *slog.Logger
}

// New builds a Client against root, canonicalized to end in "/".
// logger is optional; when omitted, slog.Default() is used.
func New(root string, auth Auth, httpClient *http.Client, logger ...*slog.Logger) *Client {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return &Client{root: root, auth: auth, client: httpClient, logger: l}
}

// acceptTransferSyntaxParam renders the Accept header's
// transfer-syntax parameter for a requested transfer syntax list:
// an empty list maps to the default syntax; ["*"] alone maps to no
// parameter at all (any syntax acceptable); otherwise the first
// requested syntax is used.
func acceptTransferSyntaxParam(transferSyntaxes []string) string {
	if len(transferSyntaxes) == 0 {
		return defaultTransferSyntax
	}
	if len(transferSyntaxes) == 1 && transferSyntaxes[0] == "*" {
		return ""
	}
	return transferSyntaxes[0]
}

func wadoAcceptHeader(transferSyntaxes []string) string {
	ts := acceptTransferSyntaxParam(transferSyntaxes)
	if ts == "" {
		return `multipart/related; type="application/dicom"`
	}
	return `multipart/related; type="application/dicom"; transfer-syntax=` + ts
}

func newRequestValidationError(op string, msg string) error {
	return errors.NewRequestValidationError(op, fmt.Errorf("%s", msg))
}
