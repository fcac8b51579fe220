package domains

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
)

const (
	MethodCNAME = "CNAME"
	MethodA     = "A"
)

// Resolver is the subset of *net.Resolver the verifier uses.
type Resolver interface {
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Verification is the outcome of one DNS check.
type Verification struct {
	Verified      bool   `json:"verified"`
	Method        string `json:"method,omitempty"`
	ExpectedCNAME string `json:"expectedCname"`
	ExpectedIP    string `json:"expectedIp,omitempty"`
}

// Verifier decides whether a customer domain points at the hosted site, either through a CNAME to
// <slug>.<baseDomain> or an A record for the server address.
type Verifier struct {
	resolver   Resolver
	baseDomain string
	serverIP   string
}

func NewVerifier(resolver Resolver, baseDomain, serverIP string) *Verifier {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Verifier{resolver: resolver, baseDomain: baseDomain, serverIP: serverIP}
}

// ExpectedCNAME is the target a customer domain's CNAME must point at.
func (v *Verifier) ExpectedCNAME(businessSlug string) string {
	return strings.ToLower(businessSlug + "." + v.baseDomain)
}

// Verify looks the domain up. Lookup failures count as not verified; only a cancelled context is an error.
func (v *Verifier) Verify(ctx context.Context, domain, businessSlug string) (Verification, error) {
	result := Verification{ExpectedCNAME: v.ExpectedCNAME(businessSlug), ExpectedIP: v.serverIP}
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if host == "" {
		return result, fmt.Errorf("domain is empty")
	}

	cname, err := v.resolver.LookupCNAME(ctx, host)
	if err == nil && strings.TrimSuffix(strings.ToLower(cname), ".") == result.ExpectedCNAME {
		result.Verified = true
		result.Method = MethodCNAME
		return result, nil
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	if v.serverIP == "" {
		return result, nil
	}
	addrs, err := v.resolver.LookupHost(ctx, host)
	if err == nil && slices.Contains(addrs, v.serverIP) {
		result.Verified = true
		result.Method = MethodA
		return result, nil
	}
	return result, ctx.Err()
}
