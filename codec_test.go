package memberid

import (
	"bytes"
	"strings"
	"testing"
)

func TestCodec_RoundTrip(t *testing.T) {
	signer, err := NewSigner(testSigningKey(t))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	record, err := signer.Sign(testPayload())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	code, err := Encode(record)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, r := range code {
		if !strings.ContainsRune(base45Alphabet, r) {
			t.Fatalf("code contains non-alphanumeric symbol %q", r)
		}
	}

	back, err := Decode(code)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(back, record) {
		t.Fatal("decoded record differs from signed record")
	}
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"not base45":     "abc",
		"not compressed": Base45Encode([]byte("plain bytes, no zlib header")),
		"truncated":      truncatedCode(t),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(in)
			assertCode(t, err, ErrCodeEncoding)
		})
	}
}

func TestDecode_RejectsOversizedInflation(t *testing.T) {
	code, err := Encode(make([]byte, maxInflatedSize+1))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err = Decode(code)
	assertCode(t, err, ErrCodeEncoding)
}

func truncatedCode(t *testing.T) string {
	t.Helper()
	code, err := Encode(bytes.Repeat([]byte("member"), 40))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	compressed, err := Base45Decode(code)
	if err != nil {
		t.Fatalf("Base45Decode: %v", err)
	}
	return Base45Encode(compressed[:len(compressed)/2])
}
