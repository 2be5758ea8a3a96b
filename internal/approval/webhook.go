package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// webhookTimeout bounds both connect and the round trip; spec.md §4.5
// caps this at 5s and forbids retries.
const webhookTimeout = 5 * time.Second

// webhookPayload is the body posted to a gate's webhook on request
// creation.
type webhookPayload struct {
	ID        string         `json:"id"`
	Phase     string         `json:"phase"`
	GateName  string         `json:"gate_name"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// isBlockedAddr reports whether ip must never be reached by an outbound
// webhook: loopback, link-local (including the 169.254.169.254 /
// fd00:ec2::254 cloud-metadata addresses, which fall in link-local and
// unique-local space respectively), RFC1918/ULA private space, or
// unspecified (0.0.0.0). net.IP's classification methods already
// implement every range spec.md §4.5 names; no third-party IP-range
// library in the retrieved examples covers this narrower SSRF-specific
// check, so this is one of the few places the package reaches for the
// standard library over a pack dependency (see DESIGN.md).
func isBlockedAddr(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified()
}

// validateWebhookURL is the use-time half of the SSRF defense: it parses
// the URL and resolves the host, rejecting it if resolution fails or
// yields any blocked address. validateWebhookURL (the config-time half)
// in internal/policy/validators.go only checks the scheme; this re-checks
// because the resolved address can change between policy load and send.
func validateWebhookTarget(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing webhook url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("webhook scheme %q is not http or https", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("webhook url has no host")
	}
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedAddr(ip) {
			return fmt.Errorf("webhook host %s resolves to a blocked address", host)
		}
		return nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolving webhook host %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("webhook host %s did not resolve", host)
	}
	for _, a := range addrs {
		if isBlockedAddr(a.IP) {
			return fmt.Errorf("webhook host %s resolves to blocked address %s", host, a.IP)
		}
	}
	return nil
}

// pinnedTransport builds an http.Transport whose DialContext re-resolves
// and re-checks the target on every connection attempt, pinning the dial
// to the address it validated rather than trusting a second DNS lookup
// inside net/http not to return something different (DNS rebinding).
func pinnedTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: webhookTimeout}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			var target net.IP
			if ip := net.ParseIP(host); ip != nil {
				if isBlockedAddr(ip) {
					return nil, fmt.Errorf("refusing to dial blocked address %s", ip)
				}
				target = ip
			} else {
				addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
				if err != nil {
					return nil, err
				}
				for _, a := range addrs {
					if !isBlockedAddr(a.IP) {
						target = a.IP
						break
					}
				}
				if target == nil {
					return nil, fmt.Errorf("webhook host %s has no permitted address", host)
				}
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(target.String(), port))
		},
	}
}

// sendWebhook fires a fire-and-forget POST of req to the gate's webhook
// URL. It is meant to be called in its own goroutine; it never returns an
// error to the caller, only logs. A rejected target is silently dropped
// from the caller's perspective (no exception) but logged here and
// recorded by the caller as an audit-visible event via onBlocked.
func sendWebhook(webhookURL string, req *Request, onBlocked func(reason string)) {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	if err := validateWebhookTarget(ctx, webhookURL); err != nil {
		slog.Warn("webhook target rejected", "url", webhookURL, "approval_id", req.ID, "error", err)
		if onBlocked != nil {
			onBlocked(err.Error())
		}
		return
	}

	body, err := json.Marshal(webhookPayload{
		ID: req.ID, Phase: req.Phase, GateName: req.GateName,
		Context: req.Context, CreatedAt: req.CreatedAt,
	})
	if err != nil {
		slog.Error("marshaling webhook payload", "approval_id", req.ID, "error", err)
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		slog.Error("building webhook request", "approval_id", req.ID, "error", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: webhookTimeout, Transport: pinnedTransport()}
	resp, err := client.Do(httpReq)
	if err != nil {
		slog.Warn("webhook delivery failed", "approval_id", req.ID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("webhook delivery rejected by receiver", "approval_id", req.ID, "status", resp.StatusCode)
	}
}
