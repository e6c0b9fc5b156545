package scraper

import (
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceTypes maps config names to CDP resource types.
var resourceTypes = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// adHosts are ad and tracking registrable domains. Stats sites load dozens
// of these and they are the usual reason "load" never fires.
var adHosts = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googleadservices.com":  {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"googletagservices.com": {},
	"adnxs.com":             {},
	"amazon-adsystem.com":   {},
	"criteo.com":            {},
	"pubmatic.com":          {},
	"rubiconproject.com":    {},
	"scorecardresearch.com": {},
	"quantserve.com":        {},
	"hotjar.com":            {},
	"taboola.com":           {},
	"outbrain.com":          {},
	"nitropay.com":          {},
	"consensu.org":          {},
}

// isAdHost checks host and each of its parent domains against adHosts.
func isAdHost(host string) bool {
	host = strings.ToLower(host)
	for host != "" {
		if _, ok := adHosts[host]; ok {
			return true
		}
		_, rest, found := strings.Cut(host, ".")
		if !found {
			break
		}
		host = rest
	}
	return false
}

// blockSet resolves config names, ignoring unknown ones.
func blockSet(names []string) map[proto.NetworkResourceType]struct{} {
	set := make(map[proto.NetworkResourceType]struct{}, len(names))
	for _, name := range names {
		if rt, ok := resourceTypes[name]; ok {
			set[rt] = struct{}{}
		} else {
			slog.Warn("ignoring unknown resource type", "type", name)
		}
	}
	return set
}

// setupHijack installs a request interceptor that fails blocked resource
// types and, when blockAds is set, requests to ad hosts. It returns nil when
// there is nothing to block. The caller stops the router.
func setupHijack(page *rod.Page, blockedTypes []string, blockAds bool) *rod.HijackRouter {
	blocked := blockSet(blockedTypes)
	if len(blocked) == 0 && !blockAds {
		return nil
	}

	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if _, ok := blocked[h.Request.Type()]; ok {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		if blockAds && isAdHost(h.Request.URL().Hostname()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		slog.Warn("request interception unavailable, loading everything", "error", err)
		return nil
	}

	// Run blocks until Stop.
	go router.Run()
	return router
}
