package wire

import (
	"crypto/ed25519"
	"fmt"
)

// Transaction pairs a MessageV0 with the signatures over its serialized
// bytes, in the order dictated by the message's static signer accounts.
type Transaction struct {
	Signatures []Signature
	Message    *MessageV0
}

// NewTransaction allocates an unsigned Transaction sized for the message's
// required signature count.
func NewTransaction(msg *MessageV0) *Transaction {
	return &Transaction{
		Signatures: make([]Signature, msg.NumRequiredSignatures()),
		Message:    msg,
	}
}

// Sign signs the message with every provided keypair, placing each
// signature at the index matching its public key's position amongst the
// message's static signer accounts. Returns an error if any signer isn't
// amongst the message's required signers, or if not every required signer
// was provided.
func (t *Transaction) Sign(keys ...ed25519.PrivateKey) error {
	payload := t.Message.Serialize()

	required := t.Message.NumRequiredSignatures()
	signed := make([]bool, required)

	for _, key := range keys {
		pub := key.Public().(ed25519.PublicKey)
		var pk Pubkey
		copy(pk[:], pub)

		idx := -1
		for i := 0; i < required; i++ {
			if t.Message.StaticAccountKeys[i] == pk {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("wire: signer %s is not a required signer of this message", pk)
		}

		t.Signatures[idx] = SignMessage(key, payload)
		signed[idx] = true
	}

	for i, ok := range signed {
		if !ok {
			return fmt.Errorf("wire: missing signature for required signer %s", t.Message.StaticAccountKeys[i])
		}
	}

	return nil
}

// Serialize encodes the full wire transaction: shortvec-prefixed signatures
// followed by the serialized message.
func (t *Transaction) Serialize() []byte {
	var buf []byte
	buf = EncodeShortVecLen(buf, len(t.Signatures))
	for _, s := range t.Signatures {
		buf = append(buf, s[:]...)
	}
	buf = append(buf, t.Message.Serialize()...)
	return buf
}

// FirstSignature returns the transaction's canonical identity signature
// (index 0), re-used across Sender, Confirmation, and Failure Handler per
// spec.md §4.11.
func (t *Transaction) FirstSignature() Signature {
	if len(t.Signatures) == 0 {
		return Signature{}
	}
	return t.Signatures[0]
}
