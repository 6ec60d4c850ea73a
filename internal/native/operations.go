package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/remiblancher/encrypto/pkg/qpgp"
)

func hashName(f qpgp.Family) string {
	if f == qpgp.FamilyPostQuantum {
		return "SHA3-512"
	}
	return "SHA512"
}

// Encrypt seals the plaintext to every recipient's encryption subkey.
func (b *Backend) Encrypt(ctx context.Context, req qpgp.EncryptRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	d, err := qpgp.Decide(qpgp.OpEncrypt, req.PqcPolicy, b.SupportsPQC())
	if err != nil {
		return nil, err
	}

	var (
		keys []*storedKey
		seen = map[qpgp.KeyID]bool{}
	)
	for _, r := range req.Recipients {
		fp := qpgp.KeyID(strings.ToUpper(string(r)))
		if seen[fp] {
			continue
		}
		seen[fp] = true

		k, err := b.load(ctx, fp)
		if errors.Is(err, errNoKey) {
			return nil, qpgp.InvalidInput(fmt.Sprintf("recipient %s: no such key", fp))
		}
		if err != nil {
			return nil, err
		}
		if k.revoked() {
			return nil, qpgp.InvalidInput(fmt.Sprintf("recipient %s: key is revoked", fp))
		}
		fam := k.suite.Family
		if err := b.requireCapability(fam, "encrypt to "+string(fp)); err != nil {
			return nil, err
		}
		if err := d.Check(fam, "recipient "+string(fp)); err != nil {
			return nil, err
		}
		if d.Tier == qpgp.TierPostQuantum && fam == qpgp.FamilyClassical && !req.Compat {
			return nil, qpgp.Denied(qpgp.KindInvalidInput, fmt.Sprintf("recipient %s has no post-quantum encryption key; pass --compat to encrypt to it anyway", fp))
		}
		keys = append(keys, k)
	}

	sessionKey := make([]byte, sessionKeySize)
	if _, err := io.ReadFull(b.rand, sessionKey); err != nil {
		return nil, qpgp.BackendError("session key", err)
	}
	defer qpgp.Wipe(sessionKey)

	msg := &encryptedMessage{}
	for _, k := range keys {
		rb, err := sealTo(b.rand, k.fp, k.cert.Subkey, sessionKey)
		if err != nil {
			return nil, qpgp.BackendError("encrypt to "+string(k.fp), err)
		}
		msg.Recipients = append(msg.Recipients, rb)
	}
	if err := sealPayload(b.rand, msg, sessionKey, req.Plaintext); err != nil {
		return nil, qpgp.BackendError("encrypt payload", err)
	}

	out, err := encodeMessage(msg)
	if err != nil {
		return nil, qpgp.BackendError("encode message", err)
	}
	if req.Armor {
		if out, err = armorEncode(blockMessage, out); err != nil {
			return nil, qpgp.BackendError("armor", err)
		}
	}
	return out, nil
}

// Decrypt opens a message with the first recipient block that has a
// secret key in the keyring.
func (b *Backend) Decrypt(ctx context.Context, req qpgp.DecryptRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	d, err := qpgp.Decide(qpgp.OpDecrypt, req.PqcPolicy, b.SupportsPQC())
	if err != nil {
		return nil, err
	}

	body, err := dearmorExpect(req.Ciphertext, blockMessage)
	if err != nil {
		return nil, qpgp.InvalidInput("decrypt: " + err.Error())
	}
	msg, err := decodeMessage(body)
	if err != nil {
		return nil, qpgp.InvalidInput("decrypt: " + err.Error())
	}
	fam := msg.family()
	if err := b.requireCapability(fam, "decrypt"); err != nil {
		return nil, err
	}
	if err := d.Check(fam, "message"); err != nil {
		return nil, err
	}

	// The first failure is reported only if no other recipient block opens.
	var firstErr error
	for i := range msg.Recipients {
		rb := &msg.Recipients[i]
		k, err := b.load(ctx, qpgp.KeyID(rb.Fingerprint))
		if errors.Is(err, errNoKey) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if k.secret == nil {
			continue
		}

		m, err := unlock(k, req.Passphrase)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sessionKey, err := openFrom(rb, k.cert.Subkey, m.Encryption)
		m.wipe()
		if err != nil {
			if firstErr == nil {
				firstErr = qpgp.InvalidInput(fmt.Sprintf("decrypt: recipient block for %s: %v", k.fp, err))
			}
			continue
		}
		pt, err := openPayload(msg, sessionKey)
		qpgp.Wipe(sessionKey)
		if err != nil {
			return nil, qpgp.InvalidInput("decrypt: " + err.Error())
		}
		return pt, nil
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, qpgp.InvalidInput("no matching secret key available")
}

// Sign produces a detached signature, or a cleartext signed message when
// req.Cleartext is set.
func (b *Backend) Sign(ctx context.Context, req qpgp.SignRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	d, err := qpgp.Decide(qpgp.OpSign, req.PqcPolicy, b.SupportsPQC())
	if err != nil {
		return nil, err
	}

	k, err := b.resolve(ctx, req.Signer)
	if err != nil {
		return nil, err
	}
	if k.revoked() {
		return nil, qpgp.InvalidInput(fmt.Sprintf("key %s is revoked", k.fp))
	}
	fam := k.suite.Family
	if err := b.requireCapability(fam, "sign"); err != nil {
		return nil, err
	}
	if err := d.Check(fam, "signing key "+string(k.fp)); err != nil {
		return nil, err
	}

	m, err := unlock(k, req.Passphrase)
	if err != nil {
		return nil, err
	}
	defer m.wipe()

	sig, err := makeSignature(b.rand, sigData, k.fp, k.cert.Primary, m.Signing, b.timestamp(), req.Message)
	if err != nil {
		return nil, qpgp.BackendError("sign", err)
	}
	if !verifySignature(&sig, sigData, k.fp, k.cert.Primary, req.Message) {
		return nil, qpgp.BackendError("sign: key "+string(k.fp), errMaterialMismatch)
	}
	raw, err := encodeSignature(&sig)
	if err != nil {
		return nil, qpgp.BackendError("encode signature", err)
	}

	switch {
	case req.Cleartext:
		out, err := encodeCleartext(req.Message, raw, hashName(fam))
		if err != nil {
			return nil, qpgp.BackendError("cleartext framing", err)
		}
		return out, nil
	case req.Armor:
		out, err := armorEncode(blockSignature, raw)
		if err != nil {
			return nil, qpgp.BackendError("armor", err)
		}
		return out, nil
	default:
		return raw, nil
	}
}

// Verify checks a signature against the explicitly named signer. Hard
// revocations (compromised, unspecified) invalidate every signature; soft
// ones only signatures made after the revocation.
func (b *Backend) Verify(ctx context.Context, req qpgp.VerifyRequest) (qpgp.VerifyResult, error) {
	if err := req.Validate(); err != nil {
		return qpgp.VerifyResult{}, err
	}
	d, err := qpgp.Decide(qpgp.OpVerify, req.PqcPolicy, b.SupportsPQC())
	if err != nil {
		return qpgp.VerifyResult{}, err
	}

	message := req.Message
	var (
		raw       []byte
		recovered bool
	)
	if req.Cleartext || isCleartext(req.Signature) {
		message, raw, err = decodeCleartext(req.Signature)
		if err != nil {
			return qpgp.VerifyResult{}, qpgp.InvalidInput("verify: " + err.Error())
		}
		recovered = true
	} else if raw, err = dearmorExpect(req.Signature, blockSignature); err != nil {
		return qpgp.VerifyResult{}, qpgp.InvalidInput("verify: " + err.Error())
	}

	sig, err := decodeSignature(raw)
	if err != nil {
		return qpgp.VerifyResult{}, qpgp.InvalidInput("verify: " + err.Error())
	}
	fam := familyOf(sig.Algos)
	if err := b.requireCapability(fam, "verify"); err != nil {
		return qpgp.VerifyResult{}, err
	}
	if err := d.Check(fam, "signature"); err != nil {
		return qpgp.VerifyResult{}, err
	}

	signer := qpgp.KeyID(strings.ToUpper(string(req.Signer)))
	k, err := b.load(ctx, signer)
	if errors.Is(err, errNoKey) {
		return qpgp.VerifyResult{}, qpgp.InvalidInput(fmt.Sprintf("signer %s: no such key", signer))
	}
	if err != nil {
		return qpgp.VerifyResult{}, err
	}

	valid := verifySignature(sig, sigData, k.fp, k.cert.Primary, message)
	if valid && k.revoked() {
		rev := k.cert.Revocation
		reason, _ := qpgp.ReasonFromCode(rev.Reason)
		switch reason {
		case qpgp.ReasonKeyCompromised, qpgp.ReasonUnspecified:
			valid = false
		default:
			valid = sig.Created < rev.Signature.Created
		}
	}

	res := qpgp.VerifyResult{Valid: valid}
	if valid {
		res.Signer = &k.fp
		if recovered {
			res.Message = message
		}
	}
	return res, nil
}
