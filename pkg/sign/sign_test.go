package sign

import (
	"testing"

	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/stretchr/testify/assert"
)

func TestSignVote(t *testing.T) {
	s, err := NewEd25519Signer()
	assert.Nil(t, err, "check new signer failed")

	vote := &meta.PrepareVote{
		TransactionID: meta.NewTransactionID([]byte("tx"), 1),
		ShardID:       2,
		CanCommit:     true,
	}
	SignVote(s, vote)

	v := NewEd25519Verifier()
	assert.True(t, VerifyVote(v, vote), "check verify vote failed")

	vote.CanCommit = false
	assert.False(t, VerifyVote(v, vote), "check tampered vote failed")

	vote.CanCommit = true
	vote.Signature = vote.Signature[:10]
	assert.False(t, VerifyVote(v, vote), "check short signature failed")
}

func TestSeedSigner(t *testing.T) {
	seed := make([]byte, 32)
	seed[0] = 1

	s1 := NewEd25519SignerFromSeed(seed)
	s2 := NewEd25519SignerFromSeed(seed)
	assert.True(t, s1.PublicKey().Equal(s2.PublicKey()), "check seed signer failed")
	assert.Equal(t, s1.Sign([]byte("a")), s2.Sign([]byte("a")), "check seed signer failed")
}
