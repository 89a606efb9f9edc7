package credentials

import "github.com/elsanchez/smart-publish/internal/domain"

// PlatformCookies describes which cookies prove a logged-in session.
type PlatformCookies struct {
	// Domain is the registrable domain used to filter browser cookies.
	Domain string
	// Required cookies must all be present for the blob to be usable.
	Required []string
	// Extra cookies usually accompany a login; informational only.
	Extra []string
}

var platformCookies = map[string]PlatformCookies{
	domain.PlatformDouyin: {
		Domain:   "douyin.com",
		Required: []string{"sessionid"},
		Extra:    []string{"ttwid", "passport_csrf_token", "sid_guard", "odin_tt"},
	},
	domain.PlatformKuaishou: {
		Domain:   "kuaishou.com",
		Required: []string{"kuaishou.server.web_st"},
		Extra:    []string{"userId", "did"},
	},
	domain.PlatformXiaohongshu: {
		Domain:   "xiaohongshu.com",
		Required: []string{"web_session"},
		Extra:    []string{"a1", "webId"},
	},
	domain.PlatformTencent: {
		Domain:   "channels.weixin.qq.com",
		Required: []string{"sessionid"},
		Extra:    []string{"wxuin"},
	},
}

// CookiesFor returns the cookie profile of a platform.
func CookiesFor(platform string) (PlatformCookies, bool) {
	cfg, ok := platformCookies[platform]
	return cfg, ok
}
