// Package instrument decorates a qpgp.Backend with diagnostics logging,
// Prometheus metrics and audit events.
package instrument

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/remiblancher/encrypto/internal/logging"
	"github.com/remiblancher/encrypto/pkg/audit"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// Backend wraps another backend. It changes no results except that a
// failed audit write fails an otherwise successful operation.
type Backend struct {
	next    qpgp.Backend
	log     *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

var _ qpgp.Backend = (*Backend)(nil)

// Wrap returns b decorated. log and m may be nil.
func Wrap(b qpgp.Backend, log *zap.Logger, m *Metrics) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		next:    b,
		log:     log.With(zap.String("backend", b.Name())),
		metrics: m,
		now:     time.Now,
	}
}

// Unwrap returns the decorated backend.
func (b *Backend) Unwrap() qpgp.Backend { return b.next }

func (b *Backend) Name() string      { return b.next.Name() }
func (b *Backend) SupportsPQC() bool { return b.next.SupportsPQC() }

func outcome(err error) string {
	if qpgp.IsPolicyDenial(err) {
		return OutcomeDenied
	}
	var rerr *qpgp.RotationError
	if errors.As(err, &rerr) && rerr.Step == qpgp.StepRevoke {
		return OutcomeRotation
	}
	switch qpgp.KindOf(err) {
	case qpgp.KindInvalidInput:
		return OutcomeInput
	case qpgp.KindNotImplemented:
		return OutcomeNotImpl
	case qpgp.KindIO:
		return OutcomeIO
	case 0:
		if err == nil {
			return OutcomeSuccess
		}
	}
	return OutcomeBackend
}

// finish records one call. res is the outcome label override for calls
// that succeed with a negative answer.
func (b *Backend) finish(op qpgp.Operation, policy *qpgp.PqcPolicy, start time.Time, res string, err error, fields ...zap.Field) error {
	if res == "" {
		res = outcome(err)
	}
	b.metrics.observe(string(op), res, b.now().Sub(start).Seconds())

	fields = append(fields, logging.Op(string(op)), zap.String("outcome", res), zap.Duration("elapsed", b.now().Sub(start)))
	if err != nil {
		b.log.Info("operation failed", append(fields, zap.Error(err))...)
	} else {
		b.log.Debug("operation completed", fields...)
	}

	if err != nil && qpgp.IsPolicyDenial(err) {
		pol := ""
		if policy != nil {
			pol = policy.String()
		}
		if aerr := audit.LogPolicyDenied(string(op), b.Name(), pol, err); aerr != nil {
			return errors.Join(err, aerr)
		}
	}
	return err
}

// audited folds an audit write failure into a successful result.
func audited(err, aerr error) error {
	if err != nil || aerr == nil {
		return err
	}
	return aerr
}

func keyRef(m qpgp.KeyMeta) audit.Key {
	k := audit.Key{Fingerprint: m.KeyID.String(), Algo: m.Algo}
	if m.UserID != nil {
		k.UserID = m.UserID.String()
	}
	return k
}

func (b *Backend) ListKeys(ctx context.Context) ([]qpgp.KeyMeta, error) {
	start := b.now()
	keys, err := b.next.ListKeys(ctx)
	return keys, b.finish("list", nil, start, "", err, zap.Int("keys", len(keys)))
}

func (b *Backend) GenerateKey(ctx context.Context, p qpgp.KeyGenParams) (qpgp.KeyMeta, error) {
	start := b.now()
	meta, err := b.next.GenerateKey(ctx, p)
	if !qpgp.IsPolicyDenial(err) {
		err = audited(err, audit.LogKey(audit.EventKeyGenerated, keyRef(meta),
			audit.Details{Operation: string(qpgp.OpGenerate), Backend: b.Name(), Policy: p.PqcPolicy.String()}, err))
	}
	if err != nil {
		meta = qpgp.KeyMeta{}
	}
	return meta, b.finish(qpgp.OpGenerate, &p.PqcPolicy, start, "", err, logging.Fingerprint(meta.KeyID.String()), zap.String("algo", meta.Algo))
}

func (b *Backend) ImportKey(ctx context.Context, data []byte) (qpgp.KeyMeta, error) {
	start := b.now()
	meta, err := b.next.ImportKey(ctx, data)
	err = audited(err, audit.LogKey(audit.EventKeyImported, keyRef(meta),
		audit.Details{Operation: "import", Backend: b.Name(), Secret: meta.HasSecret}, err))
	if err != nil {
		meta = qpgp.KeyMeta{}
	}
	return meta, b.finish("import", nil, start, "", err, logging.Fingerprint(meta.KeyID.String()))
}

func (b *Backend) ExportKey(ctx context.Context, id qpgp.KeyID, secret, armor bool) ([]byte, error) {
	start := b.now()
	out, err := b.next.ExportKey(ctx, id, secret, armor)
	err = audited(err, audit.LogKey(audit.EventKeyExported, audit.Key{Fingerprint: id.String()},
		audit.Details{Operation: "export", Backend: b.Name(), Secret: secret}, err))
	if err != nil {
		out = nil
	}
	return out, b.finish("export", nil, start, "", err, logging.Fingerprint(id.String()), zap.Bool("secret", secret))
}

func (b *Backend) Encrypt(ctx context.Context, req qpgp.EncryptRequest) ([]byte, error) {
	start := b.now()
	out, err := b.next.Encrypt(ctx, req)
	return out, b.finish(qpgp.OpEncrypt, &req.PqcPolicy, start, "", err, zap.Int("recipients", len(req.Recipients)), zap.Bool("compat", req.Compat))
}

func (b *Backend) Decrypt(ctx context.Context, req qpgp.DecryptRequest) ([]byte, error) {
	start := b.now()
	out, err := b.next.Decrypt(ctx, req)
	if !qpgp.IsPolicyDenial(err) {
		err = audited(err, audit.LogSecretUse(audit.EventMessageDecrypted, "", b.Name(), req.PqcPolicy.String(), err))
	}
	if err != nil {
		qpgp.Wipe(out)
		out = nil
	}
	return out, b.finish(qpgp.OpDecrypt, &req.PqcPolicy, start, "", err)
}

func (b *Backend) Sign(ctx context.Context, req qpgp.SignRequest) ([]byte, error) {
	start := b.now()
	out, err := b.next.Sign(ctx, req)
	if !qpgp.IsPolicyDenial(err) {
		err = audited(err, audit.LogSecretUse(audit.EventMessageSigned, req.Signer.String(), b.Name(), req.PqcPolicy.String(), err))
	}
	if err != nil {
		out = nil
	}
	return out, b.finish(qpgp.OpSign, &req.PqcPolicy, start, "", err, zap.String("signer", req.Signer.String()))
}

func (b *Backend) Verify(ctx context.Context, req qpgp.VerifyRequest) (qpgp.VerifyResult, error) {
	start := b.now()
	res, err := b.next.Verify(ctx, req)
	label := ""
	if err == nil && !res.Valid {
		label = OutcomeInvalid
	}
	return res, b.finish(qpgp.OpVerify, &req.PqcPolicy, start, label, err, zap.String("signer", req.Signer.String()), zap.Bool("valid", res.Valid))
}

func (b *Backend) RevokeKey(ctx context.Context, req qpgp.RevokeRequest) (qpgp.RevokeResult, error) {
	start := b.now()
	res, err := b.next.RevokeKey(ctx, req)
	err = audited(err, audit.LogKey(audit.EventKeyRevoked, audit.Key{Fingerprint: req.KeyID.String()},
		audit.Details{Operation: "revoke", Backend: b.Name(), Reason: req.Reason.String()}, err))
	if err != nil {
		res = qpgp.RevokeResult{}
	}
	return res, b.finish("revoke", nil, start, "", err, logging.Fingerprint(req.KeyID.String()), zap.Stringer("reason", req.Reason))
}

func (b *Backend) RotateKey(ctx context.Context, req qpgp.RotateRequest) (qpgp.RotateResult, error) {
	start := b.now()
	res, err := b.next.RotateKey(ctx, req)
	if !qpgp.IsPolicyDenial(err) {
		successor := res.NewKey.KeyID.String()
		var rerr *qpgp.RotationError
		if errors.As(err, &rerr) && rerr.NewKey != nil {
			successor = rerr.NewKey.KeyID.String()
		}
		aerr := audit.LogKeyRotated(req.KeyID.String(), successor, b.Name(), res.OldKeyRevoked, err)
		if err != nil && aerr != nil {
			err = errors.Join(err, aerr)
		} else {
			err = audited(err, aerr)
		}
	}
	return res, b.finish(qpgp.OpRotate, &req.PqcPolicy, start, "", err, logging.Fingerprint(req.KeyID.String()), zap.String("successor", res.NewKey.KeyID.String()))
}
