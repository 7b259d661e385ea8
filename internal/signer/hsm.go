package signer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/opacey/elements-federation/internal/errkind"
)

var (
	ErrKeyNotFound    = errors.New("signer: key label not found on token")
	ErrSessionClosed  = errors.New("signer: pkcs11 session is closed")
	ErrSignRetryFailed = errors.New("signer: sign failed after session reopen")
)

// HSMSigner wraps a PKCS#11 session identified by an environment-configured
// key label (spec.md §4.2, §6 "KEY_LABEL"). The session is held for the
// process lifetime; a failed Sign is retried once after reopening the
// session, then surfaces as signer_fault.
type HSMSigner struct {
	mu        sync.Mutex
	ctx       *pkcs11.Ctx
	modulePath string
	slotID    uint
	pin       string
	keyLabel  string

	session pkcs11.SessionHandle
	privKey pkcs11.ObjectHandle
	pubKey  []byte
}

// NewHSMSigner opens a PKCS#11 session against modulePath, finds the key
// by label, and caches its public key.
func NewHSMSigner(modulePath string, slotID uint, pin, keyLabel string) (*HSMSigner, error) {
	if modulePath == "" || keyLabel == "" {
		return nil, ErrNotConfigured
	}

	ctx := pkcs11.New(modulePath)
	if ctx == nil {
		return nil, fmt.Errorf("signer: failed to load pkcs11 module %q", modulePath)
	}
	if err := ctx.Initialize(); err != nil {
		return nil, fmt.Errorf("signer: pkcs11 initialize: %w", err)
	}

	s := &HSMSigner{
		ctx:        ctx,
		modulePath: modulePath,
		slotID:     slotID,
		pin:        pin,
		keyLabel:   keyLabel,
	}
	if err := s.openSession(); err != nil {
		ctx.Destroy()
		return nil, err
	}
	return s, nil
}

// openSession opens (or reopens) the PKCS#11 session, logs in, locates the
// private key object by label, and caches the public key bytes.
func (s *HSMSigner) openSession() error {
	session, err := s.ctx.OpenSession(s.slotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return fmt.Errorf("signer: open session: %w", err)
	}
	if s.pin != "" {
		if err := s.ctx.Login(session, pkcs11.CKU_USER, s.pin); err != nil {
			s.ctx.CloseSession(session)
			return fmt.Errorf("signer: login: %w", err)
		}
	}

	privTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, s.keyLabel),
	}
	privKey, err := findOne(s.ctx, session, privTemplate)
	if err != nil {
		s.ctx.CloseSession(session)
		return fmt.Errorf("%w: %v", ErrKeyNotFound, err)
	}

	pubTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, s.keyLabel),
	}
	pubKeyObj, err := findOne(s.ctx, session, pubTemplate)
	if err != nil {
		s.ctx.CloseSession(session)
		return fmt.Errorf("%w: %v", ErrKeyNotFound, err)
	}
	attrs, err := s.ctx.GetAttributeValue(session, pubKeyObj, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
	})
	if err != nil {
		s.ctx.CloseSession(session)
		return fmt.Errorf("signer: read public key: %w", err)
	}

	s.session = session
	s.privKey = privKey
	if len(attrs) > 0 {
		s.pubKey = attrs[0].Value
	}
	return nil
}

func findOne(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, template []*pkcs11.Attribute) (pkcs11.ObjectHandle, error) {
	if err := ctx.FindObjectsInit(session, template); err != nil {
		return 0, err
	}
	defer ctx.FindObjectsFinal(session)

	objs, _, err := ctx.FindObjects(session, 1)
	if err != nil {
		return 0, err
	}
	if len(objs) == 0 {
		return 0, errors.New("no matching object")
	}
	return objs[0], nil
}

// GetPubKey returns the cached public key bytes.
func (s *HSMSigner) GetPubKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pubKey
}

// Sign returns a DER-encoded ECDSA signature over blockHash. On failure it
// reopens the session and retries exactly once before surfacing a
// signer_fault error (spec.md §4.2).
func (s *HSMSigner) Sign(blockHash []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, err := s.signOnce(blockHash)
	if err == nil {
		return sig, nil
	}

	if reopenErr := s.openSession(); reopenErr != nil {
		return nil, errkind.Wrap(errkind.SignerFault, fmt.Errorf("%w: reopen failed: %v (original: %v)", ErrSignRetryFailed, reopenErr, err))
	}
	sig, err = s.signOnce(blockHash)
	if err != nil {
		return nil, errkind.Wrap(errkind.SignerFault, fmt.Errorf("%w: %v", ErrSignRetryFailed, err))
	}
	return sig, nil
}

func (s *HSMSigner) signOnce(blockHash []byte) ([]byte, error) {
	mechanism := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)}
	if err := s.ctx.SignInit(s.session, mechanism, s.privKey); err != nil {
		return nil, fmt.Errorf("sign init: %w", err)
	}
	rawSig, err := s.ctx.Sign(s.session, blockHash)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return toDER(rawSig)
}

// toDER converts a raw, fixed-length (r||s) PKCS#11 ECDSA signature into
// DER encoding, the format spec.md §4.2 requires.
func toDER(rawSig []byte) ([]byte, error) {
	if len(rawSig)%2 != 0 {
		return nil, fmt.Errorf("signer: malformed raw signature length %d", len(rawSig))
	}
	half := len(rawSig) / 2
	r := asn1Int(rawSig[:half])
	sVal := asn1Int(rawSig[half:])

	seq := append(append([]byte{}, r...), sVal...)
	out := []byte{0x30, byte(len(seq))}
	return append(out, seq...), nil
}

// asn1Int encodes b as a DER INTEGER, adding a leading zero byte if the
// high bit is set so it is not mistaken for a negative number.
func asn1Int(b []byte) []byte {
	for len(b) > 1 && b[0] == 0x00 && b[1] < 0x80 {
		b = b[1:]
	}
	if len(b) > 0 && b[0]&0x80 != 0 {
		b = append([]byte{0x00}, b...)
	}
	return append([]byte{0x02, byte(len(b))}, b...)
}

// Close releases the session and the underlying module. Safe to call
// multiple times.
func (s *HSMSigner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return nil
	}
	s.ctx.Logout(s.session)
	s.ctx.CloseSession(s.session)
	s.ctx.Finalize()
	s.ctx.Destroy()
	s.ctx = nil
	return nil
}
