package auth

import (
	"testing"
)

func FuzzPasswordHash(f *testing.F) {
	p := ArgonParams{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}
	f.Add("hunter22")
	f.Add("pässwörd")
	f.Fuzz(func(t *testing.T, pw string) {
		hash, err := HashPassword(p, pw)
		if err != nil {
			t.Skip()
		}
		ok, err := VerifyPassword(pw, hash)
		if err != nil || !ok {
			t.Fatalf("verify own hash: ok=%v err=%v", ok, err)
		}
		if ok, _ := VerifyPassword(pw+"x", hash); ok {
			t.Fatalf("different password accepted")
		}
	})
}

func FuzzVerifyToken(f *testing.F) {
	svc, err := NewTokenService("fuzz-secret")
	if err != nil {
		f.Fatal(err)
	}
	f.Add("")
	f.Add("a.b.c")
	f.Add("eyJhbGciOiJub25lIn0.eyJzdWIiOiJ4In0.")
	f.Fuzz(func(t *testing.T, token string) {
		if id, err := svc.Verify(token); err == nil {
			t.Fatalf("forged token accepted: %+v", id)
		}
	})
}
