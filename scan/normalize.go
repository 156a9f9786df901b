package scan

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Normalize reduces a completed vendor report to a Verdict. It never panics
// on odd payloads: anything without the expected stats object comes back as
// ErrMalformedReport, which callers treat as "no signal".
func Normalize(raw []byte) (Verdict, error) {
	stats := gjson.GetBytes(raw, "data.attributes.stats")
	if !stats.Exists() || !stats.IsObject() {
		return Verdict{}, fmt.Errorf("report has no stats object: %w", ErrMalformedReport)
	}

	v := Verdict{
		Malicious:  int(stats.Get("malicious").Int()),
		Suspicious: int(stats.Get("suspicious").Int()),
		Harmless:   int(stats.Get("harmless").Int()),
		Undetected: int(stats.Get("undetected").Int()),
	}
	if v.Malicious < 0 || v.Suspicious < 0 || v.Harmless < 0 || v.Undetected < 0 {
		return Verdict{}, fmt.Errorf("report has negative engine counts: %w", ErrMalformedReport)
	}

	timeout := int(stats.Get("timeout").Int())
	v.TotalEngines = v.Malicious + v.Suspicious + v.Harmless + v.Undetected + timeout
	if v.TotalEngines > 0 {
		v.FlaggedRatio = float64(v.Malicious+v.Suspicious) / float64(v.TotalEngines)
	}
	return v, nil
}

// reportFileInfo pulls the scanned object's digests out of a completed
// report, if present.
func reportFileInfo(raw []byte) (md5, sha1, sha256 string) {
	info := gjson.GetBytes(raw, "meta.file_info")
	if !info.Exists() {
		info = gjson.GetBytes(raw, "data.attributes.file_info")
	}
	return info.Get("md5").String(), info.Get("sha1").String(), info.Get("sha256").String()
}
