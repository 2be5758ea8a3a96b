package approval

import (
	"context"
	"net"
	"testing"
)

func TestValidateWebhookTargetRejectsNonHTTP(t *testing.T) {
	for _, u := range []string{"file:///etc/passwd", "gopher://evil", "not-a-url"} {
		if err := validateWebhookTarget(context.Background(), u); err == nil {
			t.Fatalf("expected %q to be rejected", u)
		}
	}
}

func TestValidateWebhookTargetRejectsBlockedAddresses(t *testing.T) {
	for _, u := range []string{
		"http://127.0.0.1/hook",
		"http://169.254.169.254/latest/meta-data",
		"http://10.0.0.1/hook",
		"http://192.168.1.5/hook",
		"http://[::1]/hook",
	} {
		if err := validateWebhookTarget(context.Background(), u); err == nil {
			t.Fatalf("expected %q to be rejected as a blocked address", u)
		}
	}
}

func TestValidateWebhookTargetAcceptsPublicAddress(t *testing.T) {
	if err := validateWebhookTarget(context.Background(), "http://93.184.216.34/hook"); err != nil {
		t.Fatalf("expected a public literal IP to be accepted, got %v", err)
	}
}

func TestIsBlockedAddrCoversRequiredRanges(t *testing.T) {
	cases := []string{
		"127.0.0.1", "::1", // loopback
		"169.254.169.254", "fe80::1", // link-local / metadata
		"10.0.0.1", "172.16.0.1", "192.168.0.1", // RFC1918
		"fc00::1", "fd00:ec2::254", // unique-local IPv6 / AWS IPv6 metadata
		"0.0.0.0", // unspecified
	}
	for _, c := range cases {
		ip := net.ParseIP(c)
		if ip == nil {
			t.Fatalf("failed to parse IP %q", c)
		}
		if !isBlockedAddr(ip) {
			t.Errorf("expected %s to be blocked", c)
		}
	}
}
