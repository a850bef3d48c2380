package sign

import (
	"crypto/rand"
	"io"

	"github.com/infinivision/shardledger/pkg/meta"
	"golang.org/x/crypto/ed25519"
)

// Signer signs prepare votes on behalf of a validator
type Signer interface {
	PublicKey() meta.PublicKey
	Sign(data []byte) []byte
}

// Verifier checks a signature made by a validator key
type Verifier interface {
	Verify(key meta.PublicKey, data, signature []byte) bool
}

type ed25519Signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewEd25519Signer returns a signer with a random key pair
func NewEd25519Signer() (Signer, error) {
	return newEd25519Signer(rand.Reader)
}

// NewEd25519SignerFromSeed returns a deterministic signer, the seed must be
// ed25519.SeedSize bytes.
func NewEd25519SignerFromSeed(seed []byte) Signer {
	priv := ed25519.NewKeyFromSeed(seed)
	return &ed25519Signer{
		pub:  priv.Public().(ed25519.PublicKey),
		priv: priv,
	}
}

func newEd25519Signer(r io.Reader) (Signer, error) {
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, err
	}

	return &ed25519Signer{pub: pub, priv: priv}, nil
}

func (s *ed25519Signer) PublicKey() meta.PublicKey {
	value := make(meta.PublicKey, len(s.pub))
	copy(value, s.pub)
	return value
}

func (s *ed25519Signer) Sign(data []byte) []byte {
	return ed25519.Sign(s.priv, data)
}

type ed25519Verifier struct{}

// NewEd25519Verifier returns a verifier of ed25519 signatures
func NewEd25519Verifier() Verifier {
	return ed25519Verifier{}
}

func (ed25519Verifier) Verify(key meta.PublicKey, data, signature []byte) bool {
	if len(key) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(key), data, signature)
}

// SignVote fills signer and signature of the vote
func SignVote(s Signer, vote *meta.PrepareVote) {
	vote.Signer = s.PublicKey()
	vote.Signature = s.Sign(vote.SigningBytes())
}

// VerifyVote checks the vote signature against its signer
func VerifyVote(v Verifier, vote *meta.PrepareVote) bool {
	return v.Verify(vote.Signer, vote.SigningBytes(), vote.Signature)
}
