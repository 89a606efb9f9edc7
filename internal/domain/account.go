package domain

import "time"

// AccountStatus representa el resultado de la última verificación de credenciales
type AccountStatus string

const (
	AccountUnverified AccountStatus = "unverified"
	AccountValid      AccountStatus = "valid"
	AccountInvalid    AccountStatus = "invalid"
)

// Account representa una cuenta de plataforma con su credencial almacenada
type Account struct {
	ID             int64         `json:"id"`
	Platform       string        `json:"platform"`
	Label          string        `json:"label"`
	CredentialRef  string        `json:"credential_ref"`
	Status         AccountStatus `json:"status"`
	LastVerifiedAt *time.Time    `json:"last_verified_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Platform constants para las plataformas soportadas
const (
	PlatformDouyin      = "douyin"
	PlatformKuaishou    = "kuaishou"
	PlatformXiaohongshu = "xiaohongshu"
	PlatformTencent     = "tencent"
)

// KnownPlatforms lista las plataformas que el daemon acepta
var KnownPlatforms = []string{
	PlatformDouyin,
	PlatformKuaishou,
	PlatformXiaohongshu,
	PlatformTencent,
}

// IsKnownPlatform indica si la plataforma está registrada
func IsKnownPlatform(platform string) bool {
	for _, p := range KnownPlatforms {
		if p == platform {
			return true
		}
	}
	return false
}

// CredentialRefFor construye la referencia de credencial para una cuenta
func CredentialRefFor(platform, label string) string {
	return platform + "_" + label
}
