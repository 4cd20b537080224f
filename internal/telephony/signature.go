package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"voice-concierge/pkg/logger"
)

// ValidateSignature checks the X-Twilio-Signature header on provider
// webhooks: HMAC-SHA1 over the full request URL plus the sorted POST form
// parameters, keyed with the account auth token. publicDomain is the
// externally visible host the provider signed against, which may differ
// from the Host header behind a proxy.
func ValidateSignature(authToken, publicDomain string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sig := c.GetHeader("X-Twilio-Signature")
		if sig == "" {
			logger.FromGin(c).Warn("webhook missing provider signature")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		expected := computeSignature(authToken, requestURL(c, publicDomain), c.Request.PostForm)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
			logger.FromGin(c).Warn("webhook signature mismatch")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

func requestURL(c *gin.Context, publicDomain string) string {
	u := "https://" + publicDomain + c.Request.URL.Path
	if q := c.Request.URL.RawQuery; q != "" {
		u += "?" + q
	}
	return u
}

func computeSignature(authToken, url string, form map[string][]string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
