package native

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/remiblancher/encrypto/internal/keyring"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// Backend names accepted by Open.
const (
	NameNative  = "native"
	NameClassic = "classic"
)

// Options configures a Backend.
type Options struct {
	// DisablePQC makes the backend report SupportsPQC() == false and refuse
	// post-quantum material.
	DisablePQC bool

	// KDF tunes secret key protection. Zero means DefaultKDFParams.
	KDF KDFParams

	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader

	// Now defaults to time.Now.
	Now func() time.Time
}

// Backend implements qpgp.Backend over a keyring.
type Backend struct {
	name  string
	pqc   bool
	store keyring.Store
	rand  io.Reader
	now   func() time.Time
	kdf   KDFParams
}

var _ qpgp.Backend = (*Backend)(nil)

// New creates a backend over an existing store.
func New(name string, store keyring.Store, opts Options) *Backend {
	b := &Backend{
		name:  name,
		pqc:   !opts.DisablePQC,
		store: store,
		rand:  opts.Rand,
		now:   opts.Now,
		kdf:   opts.KDF,
	}
	if b.rand == nil {
		b.rand = rand.Reader
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.kdf == (KDFParams{}) {
		b.kdf = DefaultKDFParams
	}
	return b
}

// Names lists the backends Open accepts.
func Names() []string {
	return []string{NameClassic, NameNative}
}

// Open selects a backend by name, keeping keys under <home>/keyring.
func Open(name, home string, opts Options) (*Backend, error) {
	store := keyring.NewFileStore(keyring.Dir(home))
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameNative, "":
		return New(NameNative, store, opts), nil
	case NameClassic:
		opts.DisablePQC = true
		return New(NameClassic, store, opts), nil
	default:
		return nil, qpgp.InvalidInput(fmt.Sprintf("unknown backend %q (want %s)", name, strings.Join(Names(), " or ")))
	}
}

// Name implements qpgp.Backend.
func (b *Backend) Name() string { return b.name }

// SupportsPQC implements qpgp.Backend.
func (b *Backend) SupportsPQC() bool { return b.pqc }

// =============================================================================
// Keyring access
// =============================================================================

var errNoKey = errors.New("no such key")

type storedKey struct {
	fp     qpgp.KeyID
	cert   *certificate
	suite  suite
	secret *protectedSecret
}

func (k *storedKey) meta() qpgp.KeyMeta {
	return k.cert.meta(k.fp, k.secret != nil)
}

func (k *storedKey) revoked() bool { return k.cert.Revocation != nil }

func (b *Backend) load(ctx context.Context, fp qpgp.KeyID) (*storedKey, error) {
	e, err := b.store.Get(ctx, strings.ToUpper(string(fp)))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, errNoKey
		}
		return nil, qpgp.IO("read keyring", err)
	}
	return parseEntry(e)
}

func parseEntry(e *keyring.Entry) (*storedKey, error) {
	cert, err := decodeCertificate(e.Public)
	if err != nil {
		return nil, qpgp.BackendError("keyring entry "+e.Fingerprint, err)
	}
	fp, s, err := cert.check()
	if err != nil {
		return nil, qpgp.BackendError("keyring entry "+e.Fingerprint, err)
	}
	if string(fp) != e.Fingerprint {
		return nil, qpgp.BackendError("keyring entry "+e.Fingerprint, errors.New("fingerprint mismatch"))
	}
	k := &storedKey{fp: fp, cert: cert, suite: s}
	if e.HasSecret() {
		sec, err := decodeSecret(e.Secret)
		if err != nil {
			return nil, qpgp.BackendError("keyring entry "+e.Fingerprint, err)
		}
		if sec.Fingerprint != string(fp) {
			return nil, qpgp.BackendError("keyring entry "+e.Fingerprint, errors.New("secret key belongs to another certificate"))
		}
		k.secret = sec
	}
	return k, nil
}

func (b *Backend) loadAll(ctx context.Context) ([]*storedKey, error) {
	fps, err := b.store.List(ctx)
	if err != nil {
		return nil, qpgp.IO("list keyring", err)
	}
	keys := make([]*storedKey, 0, len(fps))
	for _, fp := range fps {
		k, err := b.load(ctx, qpgp.KeyID(fp))
		if errors.Is(err, errNoKey) {
			continue
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (b *Backend) save(ctx context.Context, k *storedKey) error {
	pub, err := encodeCertificate(k.cert)
	if err != nil {
		return qpgp.BackendError("encode certificate", err)
	}
	var sec []byte
	if k.secret != nil {
		if sec, err = encodeSecret(k.secret); err != nil {
			return qpgp.BackendError("encode secret key", err)
		}
	}
	if err := b.store.Put(ctx, string(k.fp), pub, sec); err != nil {
		return qpgp.IO("write keyring", err)
	}
	return nil
}

// resolve finds exactly one key for a selector: a full fingerprint, a
// 16-hex long key ID, or user-id text (case-insensitive substring or exact
// email).
func (b *Backend) resolve(ctx context.Context, sel qpgp.KeyID) (*storedKey, error) {
	upper := qpgp.KeyID(strings.ToUpper(string(sel)))
	if upper.IsFull() {
		k, err := b.load(ctx, upper)
		if errors.Is(err, errNoKey) {
			return nil, qpgp.InvalidInput(fmt.Sprintf("no key matches %q", sel))
		}
		return k, err
	}

	keys, err := b.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	var found []*storedKey
	for _, k := range keys {
		if selectorMatches(sel, k) {
			found = append(found, k)
		}
	}
	switch len(found) {
	case 0:
		return nil, qpgp.InvalidInput(fmt.Sprintf("no key matches %q", sel))
	case 1:
		return found[0], nil
	default:
		return nil, qpgp.InvalidInput(fmt.Sprintf("selector %q is ambiguous (%d keys match); use a full fingerprint", sel, len(found)))
	}
}

func selectorMatches(sel qpgp.KeyID, k *storedKey) bool {
	upper := qpgp.KeyID(strings.ToUpper(string(sel)))
	if upper.IsShort() {
		return upper.Matches(k.fp)
	}
	s := strings.ToLower(strings.TrimSpace(string(sel)))
	if s == "" {
		return false
	}
	uid := qpgp.UserID(k.cert.UserID)
	if strings.EqualFold(uid.Email(), s) {
		return true
	}
	return strings.Contains(strings.ToLower(k.cert.UserID), s)
}

func (b *Backend) requireCapability(f qpgp.Family, what string) error {
	if f == qpgp.FamilyPostQuantum && !b.pqc {
		return qpgp.NotImplemented(fmt.Sprintf("%s: post-quantum algorithms unsupported by backend %s", what, b.name))
	}
	return nil
}

func unlock(k *storedKey, passphrase []byte) (*secretMaterial, error) {
	if k.secret == nil {
		return nil, qpgp.InvalidInput(fmt.Sprintf("key %s has no secret material", k.fp))
	}
	m, err := k.secret.unlock(passphrase)
	switch {
	case err == nil:
		return m, nil
	case errors.Is(err, errPassphraseRequired):
		return nil, qpgp.InvalidInput(fmt.Sprintf("secret key %s is protected: passphrase required", k.fp))
	case errors.Is(err, errWrongPassphrase):
		return nil, qpgp.InvalidInput(fmt.Sprintf("wrong passphrase for key %s", k.fp))
	default:
		return nil, qpgp.BackendError("unlock secret key "+string(k.fp), err)
	}
}

var errMaterialMismatch = errors.New("secret key does not match the certificate")

// matchMaterial checks that m holds the private halves of the certificate's
// primary and subkey components.
func matchMaterial(rng io.Reader, fp qpgp.KeyID, cert *certificate, m *secretMaterial) error {
	if len(m.Signing) != len(cert.Primary.Components) || len(m.Encryption) != len(cert.Subkey.Components) {
		return errMaterialMismatch
	}
	payload := []byte(fp)
	sig, err := makeSignature(rng, sigData, fp, cert.Primary, m.Signing, time.Unix(0, 0), payload)
	if err != nil || !verifySignature(&sig, sigData, fp, cert.Primary, payload) {
		return errMaterialMismatch
	}
	for i, comp := range cert.Subkey.Components {
		scheme, err := kemSchemeFor(comp.Algo)
		if err != nil {
			return err
		}
		ct, want, err := scheme.encapsulate(rng, comp.Public)
		if err != nil {
			return errMaterialMismatch
		}
		got, err := scheme.decapsulate(m.Encryption[i], ct)
		ok := err == nil && subtle.ConstantTimeCompare(want, got) == 1
		qpgp.Wipe(want)
		qpgp.Wipe(got)
		if !ok {
			return errMaterialMismatch
		}
	}
	return nil
}

func (b *Backend) timestamp() time.Time {
	return b.now().UTC().Truncate(time.Second)
}

// =============================================================================
// Key management
// =============================================================================

// ListKeys returns all keys sorted by creation time, then fingerprint.
func (b *Backend) ListKeys(ctx context.Context) ([]qpgp.KeyMeta, error) {
	keys, err := b.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	metas := make([]qpgp.KeyMeta, len(keys))
	for i, k := range keys {
		metas[i] = k.meta()
	}
	sort.SliceStable(metas, func(i, j int) bool {
		ci, cj := metas[i].Created, metas[j].Created
		if ci != nil && cj != nil && !ci.Equal(*cj) {
			return ci.Before(*cj)
		}
		return metas[i].KeyID < metas[j].KeyID
	})
	return metas, nil
}

// GenerateKey implements qpgp.Backend.
func (b *Backend) GenerateKey(ctx context.Context, p qpgp.KeyGenParams) (qpgp.KeyMeta, error) {
	return b.generateKey(ctx, qpgp.OpGenerate, p)
}

func (b *Backend) generateKey(ctx context.Context, op qpgp.Operation, p qpgp.KeyGenParams) (qpgp.KeyMeta, error) {
	if err := p.Validate(); err != nil {
		return qpgp.KeyMeta{}, err
	}
	d, err := qpgp.Decide(op, p.PqcPolicy, b.SupportsPQC())
	if err != nil {
		return qpgp.KeyMeta{}, err
	}

	s := suiteFor(d.Tier, p.PqcLevel)
	if p.Algo != "" {
		pinned, ok := lookupSuite(p.Algo)
		if !ok {
			return qpgp.KeyMeta{}, qpgp.InvalidInput(fmt.Sprintf("unknown algorithm %q (want %s)", p.Algo, strings.Join(SuiteNames(true), ", ")))
		}
		if err := b.requireCapability(pinned.Family, string(op)); err != nil {
			return qpgp.KeyMeta{}, err
		}
		if err := d.Check(pinned.Family, "algorithm "+pinned.Name); err != nil {
			return qpgp.KeyMeta{}, err
		}
		s = pinned
	}

	k, err := b.generate(ctx, s, p.UserID, p.Passphrase)
	if err != nil {
		return qpgp.KeyMeta{}, err
	}
	return k.meta(), nil
}

func (b *Backend) generate(ctx context.Context, s suite, uid qpgp.UserID, passphrase []byte) (*storedKey, error) {
	created := b.timestamp()
	m := &secretMaterial{}
	defer m.wipe()

	primary := publicKey{Algo: s.Name, Created: created.Unix()}
	for _, alg := range s.Signers {
		scheme, err := signSchemeFor(alg)
		if err != nil {
			return nil, qpgp.BackendError("generate", err)
		}
		pub, priv, err := scheme.generate(b.rand)
		if err != nil {
			return nil, qpgp.BackendError("generate "+alg+" key", err)
		}
		primary.Components = append(primary.Components, keyComponent{Algo: alg, Public: pub})
		m.Signing = append(m.Signing, priv)
	}

	sub := publicKey{Algo: s.EncName, Created: created.Unix()}
	for _, alg := range s.KEMs {
		scheme, err := kemSchemeFor(alg)
		if err != nil {
			return nil, qpgp.BackendError("generate", err)
		}
		pub, priv, err := scheme.generate(b.rand)
		if err != nil {
			return nil, qpgp.BackendError("generate "+alg+" key", err)
		}
		sub.Components = append(sub.Components, keyComponent{Algo: alg, Public: pub})
		m.Encryption = append(m.Encryption, priv)
	}

	cert := &certificate{Version: s.Version, Primary: primary, Subkey: sub, UserID: string(uid)}
	fp, err := cert.fingerprint()
	if err != nil {
		return nil, qpgp.BackendError("fingerprint", err)
	}
	payload, err := cert.bindingPayload()
	if err != nil {
		return nil, qpgp.BackendError("encode binding", err)
	}
	if cert.Binding, err = makeSignature(b.rand, sigBinding, fp, primary, m.Signing, created, payload); err != nil {
		return nil, qpgp.BackendError("self-binding signature", err)
	}

	secret, err := protect(b.rand, fp, m, passphrase, b.kdf)
	if err != nil {
		return nil, qpgp.BackendError("protect secret key", err)
	}

	k := &storedKey{fp: fp, cert: cert, suite: s, secret: secret}
	if err := b.save(ctx, k); err != nil {
		return nil, err
	}
	return k, nil
}

// ImportKey accepts an armored or binary public or secret key block. A
// known key is merged: a revocation or secret key is never dropped.
func (b *Backend) ImportKey(ctx context.Context, data []byte) (qpgp.KeyMeta, error) {
	if len(data) == 0 {
		return qpgp.KeyMeta{}, qpgp.InvalidInput("import: empty input")
	}
	body, err := dearmorExpect(data, blockPublicKey, blockSecretKey)
	if err != nil {
		return qpgp.KeyMeta{}, qpgp.InvalidInput("import: " + err.Error())
	}
	p, err := decodePacket(body)
	if err != nil {
		return qpgp.KeyMeta{}, qpgp.InvalidInput("import: " + err.Error())
	}

	var (
		cert   *certificate
		secret *protectedSecret
	)
	switch p.Type {
	case packetPublicKey:
		if cert, err = decodeCertificate(body); err != nil {
			return qpgp.KeyMeta{}, qpgp.InvalidInput("import: " + err.Error())
		}
	case packetSecretKey:
		var ts transferableSecretKey
		if err := unmarshalBody(p, &ts); err != nil {
			return qpgp.KeyMeta{}, qpgp.InvalidInput("import: malformed secret key block")
		}
		cert, secret = &ts.Certificate, &ts.Secret
	default:
		return qpgp.KeyMeta{}, qpgp.InvalidInput("import: input is not a key block")
	}

	fp, s, err := cert.check()
	if err != nil {
		return qpgp.KeyMeta{}, qpgp.InvalidInput("import: " + err.Error())
	}
	if err := b.requireCapability(s.Family, "import"); err != nil {
		return qpgp.KeyMeta{}, err
	}
	if secret != nil {
		if secret.Fingerprint != string(fp) {
			return qpgp.KeyMeta{}, qpgp.InvalidInput("import: secret key does not belong to the certificate")
		}
		if err := secret.check(); err != nil {
			return qpgp.KeyMeta{}, qpgp.InvalidInput("import: " + err.Error())
		}
		// Protected material is checked when Sign first uses it.
		if !secret.protected() {
			m, err := secret.unlock(nil)
			if err != nil {
				return qpgp.KeyMeta{}, qpgp.InvalidInput("import: " + err.Error())
			}
			err = matchMaterial(b.rand, fp, cert, m)
			m.wipe()
			if err != nil {
				return qpgp.KeyMeta{}, qpgp.InvalidInput("import: " + err.Error())
			}
		}
	}

	k := &storedKey{fp: fp, cert: cert, suite: s, secret: secret}
	existing, err := b.load(ctx, fp)
	switch {
	case errors.Is(err, errNoKey):
	case err != nil:
		return qpgp.KeyMeta{}, err
	default:
		if k.cert.Revocation == nil {
			k.cert.Revocation = existing.cert.Revocation
		}
		if k.secret == nil {
			k.secret = existing.secret
		}
	}

	if err := b.save(ctx, k); err != nil {
		return qpgp.KeyMeta{}, err
	}
	return k.meta(), nil
}

// ExportKey implements qpgp.Backend. Secret export carries the key in its
// protected form; no passphrase is needed.
func (b *Backend) ExportKey(ctx context.Context, id qpgp.KeyID, secret, armored bool) ([]byte, error) {
	k, err := b.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		out       []byte
		blockType string
	)
	if secret {
		if k.secret == nil {
			return nil, qpgp.InvalidInput(fmt.Sprintf("key %s has no secret material", k.fp))
		}
		out, err = encodePacket(packetSecretKey, transferableSecretKey{Certificate: *k.cert, Secret: *k.secret})
		blockType = blockSecretKey
	} else {
		out, err = encodeCertificate(k.cert)
		blockType = blockPublicKey
	}
	if err != nil {
		return nil, qpgp.BackendError("export", err)
	}
	if !armored {
		return out, nil
	}
	if out, err = armorEncode(blockType, out); err != nil {
		return nil, qpgp.BackendError("armor", err)
	}
	return out, nil
}

// RevokeKey signs a revocation with the primary key and stores it in the
// certificate.
func (b *Backend) RevokeKey(ctx context.Context, req qpgp.RevokeRequest) (qpgp.RevokeResult, error) {
	if err := req.Validate(); err != nil {
		return qpgp.RevokeResult{}, err
	}
	k, err := b.resolve(ctx, req.KeyID)
	if err != nil {
		return qpgp.RevokeResult{}, err
	}
	if k.revoked() {
		return qpgp.RevokeResult{}, qpgp.InvalidInput(fmt.Sprintf("key %s is already revoked", k.fp))
	}
	if err := b.requireCapability(k.suite.Family, "revoke"); err != nil {
		return qpgp.RevokeResult{}, err
	}

	m, err := unlock(k, req.Passphrase)
	if err != nil {
		return qpgp.RevokeResult{}, err
	}
	defer m.wipe()

	code := req.Reason.Code()
	payload, err := k.cert.revocationPayload(code, req.Message)
	if err != nil {
		return qpgp.RevokeResult{}, qpgp.BackendError("encode revocation", err)
	}
	sig, err := makeSignature(b.rand, sigRevocation, k.fp, k.cert.Primary, m.Signing, b.timestamp(), payload)
	if err != nil {
		return qpgp.RevokeResult{}, qpgp.BackendError("revocation signature", err)
	}
	if !verifySignature(&sig, sigRevocation, k.fp, k.cert.Primary, payload) {
		return qpgp.RevokeResult{}, qpgp.BackendError("revoke: key "+string(k.fp), errMaterialMismatch)
	}
	k.cert.Revocation = &revocation{Reason: code, Message: req.Message, Signature: sig}

	// The secret key file is left as is.
	pub := &storedKey{fp: k.fp, cert: k.cert, suite: k.suite}
	if err := b.save(ctx, pub); err != nil {
		return qpgp.RevokeResult{}, err
	}

	out, err := encodeCertificate(k.cert)
	if err != nil {
		return qpgp.RevokeResult{}, qpgp.BackendError("encode certificate", err)
	}
	if req.Armor {
		if out, err = armorEncode(blockPublicKey, out); err != nil {
			return qpgp.RevokeResult{}, qpgp.BackendError("armor", err)
		}
	}
	return qpgp.RevokeResult{UpdatedCert: out}, nil
}

// RotateKey generates a replacement key and then, when asked, revokes the
// original as superseded. The steps are not atomic.
func (b *Backend) RotateKey(ctx context.Context, req qpgp.RotateRequest) (qpgp.RotateResult, error) {
	if err := req.Validate(); err != nil {
		return qpgp.RotateResult{}, err
	}
	old, err := b.resolve(ctx, req.KeyID)
	if err != nil {
		return qpgp.RotateResult{}, &qpgp.RotationError{Step: qpgp.StepGenerate, OldKey: req.KeyID, Err: err}
	}
	revoke := req.RevokeOld && !old.revoked()
	if revoke && old.secret == nil {
		return qpgp.RotateResult{}, &qpgp.RotationError{
			Step:   qpgp.StepGenerate,
			OldKey: old.fp,
			Err:    qpgp.InvalidInput(fmt.Sprintf("key %s has no secret material to sign its revocation", old.fp)),
		}
	}

	uid := qpgp.UserID(old.cert.UserID)
	if req.NewUserID != nil {
		uid = *req.NewUserID
	}
	meta, err := b.generateKey(ctx, qpgp.OpRotate, qpgp.KeyGenParams{
		UserID:           uid,
		PqcPolicy:        req.PqcPolicy,
		PqcLevel:         req.PqcLevel,
		Passphrase:       req.Passphrase,
		AllowUnprotected: req.AllowUnprotected,
	})
	if err != nil {
		return qpgp.RotateResult{}, &qpgp.RotationError{Step: qpgp.StepGenerate, OldKey: old.fp, Err: err}
	}

	res := qpgp.RotateResult{NewKey: meta}
	if !revoke {
		return res, nil
	}
	_, err = b.RevokeKey(ctx, qpgp.RevokeRequest{
		KeyID:      old.fp,
		Reason:     qpgp.ReasonKeySuperseded,
		Message:    "superseded by " + string(meta.KeyID),
		Passphrase: req.OldPassphrase,
	})
	if err != nil {
		return res, &qpgp.RotationError{Step: qpgp.StepRevoke, OldKey: old.fp, NewKey: &meta, Err: err}
	}
	res.OldKeyRevoked = true
	return res, nil
}

// HasSecretKey reports whether data is a secret key block. Unparseable
// input reports false; ImportKey rejects it with a proper diagnostic.
func HasSecretKey(data []byte) bool {
	body, err := dearmorExpect(data, blockPublicKey, blockSecretKey)
	if err != nil {
		return false
	}
	p, err := decodePacket(body)
	return err == nil && p.Type == packetSecretKey
}
