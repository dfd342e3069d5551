package aehandler

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nvidia-clara/dicom-adapter/pdu"
	"github.com/nvidia-clara/dicom-adapter/repository"
)

// AdmissionPolicy implements pdu.AdmissionPolicy against an
// AERepository: the called AE title must name a configured
// LocalApplicationEntity, and, when RejectUnknownSources is set, the
// calling AE title/host pair must match a configured source.
type AdmissionPolicy struct {
	repo                 repository.AERepository
	rejectUnknownSources bool
	logger               *slog.Logger
}

// NewAdmissionPolicy builds a policy backed by repo. logger is
// optional; when omitted, slog.Default() is used.
func NewAdmissionPolicy(repo repository.AERepository, rejectUnknownSources bool, logger ...*slog.Logger) *AdmissionPolicy {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	return &AdmissionPolicy{repo: repo, rejectUnknownSources: rejectUnknownSources, logger: l}
}

// Admit implements pdu.AdmissionPolicy.
func (p *AdmissionPolicy) Admit(callingAETitle, calledAETitle, remoteHost string) (pdu.RejectReason, bool) {
	ctx := context.Background()

	if _, err := p.repo.GetLocalAE(ctx, calledAETitle); err != nil {
		p.logger.Warn("rejecting association: called AE not recognized",
			"called_ae_title", calledAETitle, "remote_host", remoteHost)
		return pdu.RejectCalledAENotRecognized, false
	}

	if !p.rejectUnknownSources {
		return pdu.RejectNone, true
	}

	if _, err := p.repo.FindSourceAE(ctx, strings.TrimSpace(callingAETitle), remoteHost); err != nil {
		p.logger.Warn("rejecting association: calling AE not recognized",
			"calling_ae_title", callingAETitle, "remote_host", remoteHost)
		return pdu.RejectCallingAENotRecognized, false
	}

	return pdu.RejectNone, true
}
