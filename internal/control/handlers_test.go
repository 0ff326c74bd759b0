package control

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature_AcceptsCorrectHMAC(t *testing.T) {
	s := &Server{webhookSecret: "topsecret"}
	body := []byte(`{"page":"p-1"}`)
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, s.verifySignature(sig, body))
}

func TestVerifySignature_RejectsWrongSignature(t *testing.T) {
	s := &Server{webhookSecret: "topsecret"}
	assert.False(t, s.verifySignature("0000", []byte(`{"page":"p-1"}`)))
}

func TestVerifySignature_RejectsTamperedBody(t *testing.T) {
	s := &Server{webhookSecret: "topsecret"}
	body := []byte(`{"page":"p-1"}`)
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.False(t, s.verifySignature(sig, []byte(`{"page":"p-2"}`)))
}

func TestVerifySignature_NoSecretConfiguredDisablesVerification(t *testing.T) {
	s := &Server{webhookSecret: ""}
	assert.True(t, s.verifySignature("anything", []byte("body")))
}
