package admission

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature compares the HMAC-SHA256 digest of body under secret
// against a header of the form "sha256=<hex>". The comparison is constant
// time over the decoded digest bytes.
func VerifySignature(secret string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// BypassRequest carries what the bypass gate needs to decide whether an
// unsigned request may proceed: the presented bypass token and the caller's
// remote address.
type BypassRequest struct {
	Token      string
	RemoteAddr string
}

// BypassGate is the narrowly-scoped signature bypass for operational
// testing. It never opens in production; outside production it requires the
// configured token and, when an allow-list is set, a matching source IP.
type BypassGate struct {
	Enabled  bool
	Token    string
	AllowIPs []string
}

// Evaluate returns whether the bypass applies and the reason string callers
// must log when it does.
func (g BypassGate) Evaluate(req BypassRequest) (bool, string) {
	if !g.Enabled {
		return false, ""
	}
	token := strings.TrimSpace(g.Token)
	if token == "" || strings.TrimSpace(req.Token) != token {
		return false, ""
	}
	if len(g.AllowIPs) > 0 {
		ip := remoteIP(req.RemoteAddr)
		if ip == "" || !containsIP(g.AllowIPs, ip) {
			return false, ""
		}
		return true, "bypass token accepted from allow-listed ip " + ip
	}
	return true, "bypass token accepted"
}

func remoteIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if parsed := net.ParseIP(addr); parsed != nil {
		return parsed.String()
	}
	return ""
}

func containsIP(allowed []string, ip string) bool {
	for _, candidate := range allowed {
		if strings.TrimSpace(candidate) == ip {
			return true
		}
	}
	return false
}
