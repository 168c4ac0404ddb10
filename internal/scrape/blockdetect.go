package scrape

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
	BlockPerimeterX BlockType = "perimeterx"
	BlockDataDome   BlockType = "datadome"
)

// DetectBlock checks an HTTP response for signs of anti-bot protection.
// Large vehicle marketplaces commonly sit behind PerimeterX or DataDome in
// addition to Cloudflare.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if resp.StatusCode == 403 || resp.StatusCode == 503 {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" {
			return true, BlockCloudflare
		}
		if strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return true, BlockCloudflare
		}
		if resp.Header.Get("x-datadome") != "" || resp.Header.Get("x-dd-b") != "" {
			return true, BlockDataDome
		}
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "px-captcha") || strings.Contains(lower, "_pxappid") {
		return true, BlockPerimeterX
	}
	if strings.Contains(lower, "captcha-delivery.com") || strings.Contains(lower, "datadome") {
		return true, BlockDataDome
	}

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	if strings.Contains(lower, "captcha") {
		return true, BlockCaptcha
	}

	// JS-only shell: very small body with noscript or meta refresh.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, `meta http-equiv="refresh"`) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}
