package native

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// Armor block types.
const (
	blockPublicKey = "PGP PUBLIC KEY BLOCK"
	blockSecretKey = "PGP PRIVATE KEY BLOCK"
	blockMessage   = "PGP MESSAGE"
	blockSignature = "PGP SIGNATURE"
)

const (
	cleartextBegin   = "-----BEGIN PGP SIGNED MESSAGE-----"
	signatureBegin   = "-----BEGIN " + blockSignature + "-----"
	armorPrefix      = "-----BEGIN PGP "
	cleartextHashHdr = "Hash: "
)

func armorHeaders() map[string]string {
	return map[string]string{"Comment": "encrypto, " + qpgp.OpenPGPPQCDraft}
}

// armorEncode wraps binary data in an ASCII armor block.
func armorEncode(blockType string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, blockType, armorHeaders())
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// isArmored reports whether data starts with an armor header line.
func isArmored(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte(armorPrefix))
}

// dearmor returns the binary contents and block type. Binary input is
// returned unchanged with an empty type.
func dearmor(data []byte) ([]byte, string, error) {
	if !isArmored(data) {
		return data, "", nil
	}
	block, err := armor.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("malformed armor: %w", err)
	}
	body, err := io.ReadAll(block.Body)
	if err != nil {
		return nil, "", fmt.Errorf("malformed armor: %w", err)
	}
	return body, block.Type, nil
}

// dearmorExpect is dearmor that also rejects a mismatched block type.
func dearmorExpect(data []byte, want ...string) ([]byte, error) {
	body, typ, err := dearmor(data)
	if err != nil {
		return nil, err
	}
	if typ == "" {
		return body, nil
	}
	for _, w := range want {
		if typ == w {
			return body, nil
		}
	}
	return nil, fmt.Errorf("unexpected armor block %q", typ)
}

// =============================================================================
// Cleartext signed messages
// =============================================================================

// encodeCleartext frames message and signature as a cleartext signed
// message. Lines starting with '-' are dash-escaped. The line break before
// the signature block belongs to the framing, so the message round-trips
// byte for byte.
func encodeCleartext(message, sig []byte, hashName string) ([]byte, error) {
	armored, err := armorEncode(blockSignature, sig)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(cleartextBegin + "\n")
	buf.WriteString(cleartextHashHdr + hashName + "\n\n")
	for i, line := range strings.Split(string(message), "\n") {
		if i > 0 {
			buf.WriteByte('\n')
		}
		if strings.HasPrefix(line, "-") {
			buf.WriteString("- ")
		}
		buf.WriteString(line)
	}
	buf.WriteByte('\n')
	buf.Write(armored)
	return buf.Bytes(), nil
}

var errNotCleartext = errors.New("not a cleartext signed message")

// decodeCleartext splits a cleartext signed message into the original
// message and the binary signature.
func decodeCleartext(data []byte) ([]byte, []byte, error) {
	text := string(data)
	start := strings.Index(text, cleartextBegin+"\n")
	if start < 0 {
		return nil, nil, errNotCleartext
	}
	text = text[start+len(cleartextBegin)+1:]

	// Armor headers end at the first empty line.
	end := strings.Index(text, "\n\n")
	if end < 0 {
		return nil, nil, errors.New("malformed cleartext header")
	}
	for _, h := range strings.Split(text[:end], "\n") {
		if !strings.HasPrefix(h, cleartextHashHdr) {
			return nil, nil, fmt.Errorf("unexpected cleartext header %q", h)
		}
	}
	text = text[end+2:]

	sigAt := strings.Index(text, "\n"+signatureBegin)
	if sigAt < 0 {
		return nil, nil, errors.New("cleartext signed message has no signature block")
	}
	body, sigBlock := text[:sigAt], text[sigAt+1:]

	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "- ") {
			lines[i] = line[2:]
		} else if strings.HasPrefix(line, "-") {
			return nil, nil, fmt.Errorf("line %d is not dash-escaped", i+1)
		}
	}

	sig, typ, err := dearmor([]byte(sigBlock))
	if err != nil {
		return nil, nil, err
	}
	if typ != blockSignature {
		return nil, nil, fmt.Errorf("unexpected armor block %q", typ)
	}
	return []byte(strings.Join(lines, "\n")), sig, nil
}

func isCleartext(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte(cleartextBegin))
}
