package data

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt"
)

func TestParseTokenInfo(t *testing.T) {
	exp := time.Now().Add(24 * time.Hour).Unix()
	token := jwt.New(jwt.SigningMethodHS256)
	claims := token.Claims.(jwt.MapClaims)
	claims["id"] = "token-1"
	claims["userid"] = "user-1"
	claims["quota"] = float64(100)
	claims["exp"] = exp
	value, err := token.SignedString([]byte("a_test_secret"))
	if err != nil {
		t.Fatalf("sign err: %s", err)
	}

	info, err := ParseTokenInfo(value)
	if err != nil {
		t.Fatalf("parse err: %s", err)
	}
	if info.Id != "token-1" {
		t.Errorf("err, expect id: token-1 ,result: %s", info.Id)
	}
	if info.UserId != "user-1" {
		t.Errorf("err, expect userid: user-1 ,result: %s", info.UserId)
	}
	if info.Quota != 100 {
		t.Errorf("err, expect quota: 100 ,result: %f", info.Quota)
	}
	if info.Expires.Unix() != exp {
		t.Errorf("err, expect exp: %d ,result: %d", exp, info.Expires.Unix())
	}
}

func TestParseTokenInfoRejectsGarbage(t *testing.T) {
	_, err := ParseTokenInfo("not-a-token")
	if err == nil {
		t.Errorf("expect parse error for garbage token")
	}
}
