package auth

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/api/idtoken"
)

var ErrInvalidGoogleToken = errors.New("invalid google id token")

// GoogleProfile 검증된 ID 토큰에서 뽑아낸 프로필
type GoogleProfile struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// GoogleVerifier Google ID 토큰 검증기
type GoogleVerifier struct {
	audience string
}

// NewGoogleVerifier audience는 OAuth 클라이언트 ID
func NewGoogleVerifier(audience string) *GoogleVerifier {
	return &GoogleVerifier{audience: audience}
}

// Verify ID 토큰을 검증하고 프로필을 반환한다.
// 이메일이 없거나 미검증이면 거부한다.
func (g *GoogleVerifier) Verify(ctx context.Context, rawToken string) (*GoogleProfile, error) {
	payload, err := idtoken.Validate(ctx, rawToken, g.audience)
	if err != nil {
		return nil, ErrInvalidGoogleToken
	}

	email, _ := payload.Claims["email"].(string)
	verified, _ := payload.Claims["email_verified"].(bool)
	if email == "" || !verified {
		return nil, ErrInvalidGoogleToken
	}

	name, _ := payload.Claims["name"].(string)
	if name == "" {
		// 이름 클레임이 비어 있는 계정은 이메일 로컬파트로 대체
		name = email
		if i := strings.IndexByte(email, '@'); i > 0 {
			name = email[:i]
		}
	}
	picture, _ := payload.Claims["picture"].(string)

	return &GoogleProfile{
		Subject: payload.Subject,
		Email:   email,
		Name:    name,
		Picture: picture,
	}, nil
}
