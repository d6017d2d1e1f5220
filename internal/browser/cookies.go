package browser

import (
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/channel-relay/internal/relay"
)

func toCookieParams(cookies []relay.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			exp := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return params
}

func fromNetworkCookies(cookies []*network.Cookie) []relay.Cookie {
	out := make([]relay.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		rc := relay.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		// Session cookies report -1.
		if c.Expires > 0 {
			rc.Expires = c.Expires
		}
		out = append(out, rc)
	}
	return out
}
